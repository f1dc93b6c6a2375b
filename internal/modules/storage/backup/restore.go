package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// RestoreReport summarizes what a restore touched.
type RestoreReport struct {
	Tables map[string]int `json:"tables"`
}

// Restore loads an archive produced by Create back into the database. Rows
// are upserted by primary key, so restoring over live data keeps newer
// records that the archive does not mention.
func (s *Service) Restore(ctx context.Context, archive []byte) (*RestoreReport, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if err := s.checkManifest(zr); err != nil {
		return nil, err
	}

	report := &RestoreReport{Tables: make(map[string]int)}
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, archiveDBDir+"/") || !strings.HasSuffix(f.Name, ".bson") {
			continue
		}
		table := strings.TrimSuffix(strings.TrimPrefix(f.Name, archiveDBDir+"/"), ".bson")
		if !knownTable(table) {
			s.logger.Warn("skip unknown table in archive", zap.String("table", table))
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}

		n, err := s.restoreTable(ctx, table, raw)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", table, err)
		}
		report.Tables[table] = n
	}
	return report, nil
}

func (s *Service) checkManifest(zr *zip.Reader) error {
	for _, f := range zr.File {
		if f.Name != manifestFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()

		var m manifest
		if err := json.NewDecoder(rc).Decode(&m); err != nil {
			return fmt.Errorf("decode manifest: %w", err)
		}
		if m.Format != archiveFormat {
			return fmt.Errorf("unsupported archive format %q", m.Format)
		}
		if m.Version > formatVersion {
			return fmt.Errorf("archive version %d is newer than supported %d", m.Version, formatVersion)
		}
		return nil
	}
	return fmt.Errorf("archive has no manifest")
}

// restoreTable decodes a concatenated BSON document stream and upserts each
// row.
func (s *Service) restoreTable(ctx context.Context, table string, raw []byte) (int, error) {
	count := 0
	offset := 0
	for offset < len(raw) {
		if len(raw)-offset < 4 {
			return count, fmt.Errorf("truncated bson stream at offset %d", offset)
		}
		docLen := int(int32(raw[offset]) | int32(raw[offset+1])<<8 | int32(raw[offset+2])<<16 | int32(raw[offset+3])<<24)
		if docLen < 5 || offset+docLen > len(raw) {
			return count, fmt.Errorf("invalid bson document length %d at offset %d", docLen, offset)
		}

		var row map[string]interface{}
		if err := bson.Unmarshal(raw[offset:offset+docLen], &row); err != nil {
			return count, err
		}
		offset += docLen

		if len(row) == 0 {
			continue
		}
		err := s.db.WithContext(ctx).Table(table).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&row).Error
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func knownTable(table string) bool {
	for _, t := range tableNames {
		if t == table {
			return true
		}
	}
	return false
}
