package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rakshanetra/core/internal/config"
)

const (
	archiveRootDir   = "rakshanetra"
	archiveDBDir     = archiveRootDir + "/db"
	manifestFile     = archiveRootDir + "/manifest.json"
	archiveFormat    = "rakshanetra-bson"
	formatVersion    = 1
	defaultKeepCount = 14
)

// Tables included in every archive, dumped in this order.
var tableNames = []string{
	"users",
	"user_sessions",
	"tokens",
	"access_requests",
}

type manifest struct {
	Format    string            `json:"format"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	Tables    map[string]int    `json:"tables"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Service produces and restores zip archives of the durable tables. Rows are
// BSON-encoded inside the archive so column types survive the round trip.
type Service struct {
	db       *gorm.DB
	dir      string
	uploader *s3Uploader
	logger   *zap.Logger
}

func NewService(db *gorm.DB, cfg config.BackupConfig, logger *zap.Logger) *Service {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "backups"
	}

	var uploader *s3Uploader
	if cfg.S3.Enable {
		u, err := newS3Uploader(cfg.S3)
		if err != nil {
			logger.Warn("s3 backup disabled", zap.Error(err))
		} else {
			uploader = u
		}
	}

	return &Service{db: db, dir: dir, uploader: uploader, logger: logger.Named("backup")}
}

// Create dumps every table into a zip archive, stores it locally, and
// uploads it to S3 when configured. Returns the archive filename.
func (s *Service) Create(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	counts := make(map[string]int, len(tableNames))
	for _, table := range tableNames {
		rows, err := s.dumpTable(ctx, table)
		if err != nil {
			_ = zw.Close()
			return "", fmt.Errorf("dump %s: %w", table, err)
		}
		counts[table] = len(rows)

		w, err := zw.Create(archiveDBDir + "/" + table + ".bson")
		if err != nil {
			_ = zw.Close()
			return "", err
		}
		for _, row := range rows {
			doc, err := bson.Marshal(row)
			if err != nil {
				_ = zw.Close()
				return "", fmt.Errorf("encode %s row: %w", table, err)
			}
			if _, err := w.Write(doc); err != nil {
				_ = zw.Close()
				return "", err
			}
		}
	}

	m := manifest{
		Format:    archiveFormat,
		Version:   formatVersion,
		CreatedAt: time.Now().UTC(),
		Tables:    counts,
	}
	mw, err := zw.Create(manifestFile)
	if err != nil {
		_ = zw.Close()
		return "", err
	}
	if err := json.NewEncoder(mw).Encode(m); err != nil {
		_ = zw.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	name := fmt.Sprintf("backup-%s.zip", time.Now().UTC().Format("20060102-150405"))
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	s.logger.Info("backup written", zap.String("file", name), zap.Int("bytes", buf.Len()))

	if s.uploader != nil {
		url, err := s.uploader.Upload(ctx, name, buf.Bytes())
		if err != nil {
			s.logger.Warn("s3 upload failed", zap.String("file", name), zap.Error(err))
		} else {
			s.logger.Info("backup uploaded", zap.String("url", url))
		}
	}

	s.prune(defaultKeepCount)
	return name, nil
}

func (s *Service) dumpTable(ctx context.Context, table string) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := s.db.WithContext(ctx).Table(table).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// List returns available local archives, newest first.
func (s *Service) List() ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []ArchiveInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ArchiveInfo{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Path returns the local path of a named archive, rejecting traversal.
func (s *Service) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || !strings.HasSuffix(name, ".zip") {
		return "", fmt.Errorf("invalid archive name")
	}
	p := filepath.Join(s.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

func (s *Service) prune(keep int) {
	archives, err := s.List()
	if err != nil || len(archives) <= keep {
		return
	}
	for _, a := range archives[keep:] {
		if err := os.Remove(filepath.Join(s.dir, a.Name)); err != nil {
			s.logger.Warn("prune backup", zap.String("file", a.Name), zap.Error(err))
		}
	}
}

// ArchiveInfo describes one local archive.
type ArchiveInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
