package backup

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appcfg "github.com/rakshanetra/core/internal/config"
)

const defaultPathTemplate = "backups/{Y}/{m}/{filename}"

type s3Uploader struct {
	api          *s3.Client
	bucket       string
	pathTemplate string
	publicBase   string
}

func newS3Uploader(opts appcfg.S3Options) (*s3Uploader, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	region := strings.TrimSpace(opts.Region)
	accessKey := strings.TrimSpace(opts.AccessKeyID)
	secretKey := strings.TrimSpace(opts.SecretAccessKey)
	if bucket == "" || region == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket/region/access_key_id/secret_access_key are required")
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	cfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 45 * time.Second}),
	)
	if err != nil {
		return nil, err
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		// Custom endpoints generally need path-style addressing.
		o.UsePathStyle = opts.PathStyleAccess || endpoint != ""
	})

	template := strings.TrimSpace(opts.PathTemplate)
	if template == "" {
		template = defaultPathTemplate
	}

	publicBase := endpoint
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	} else {
		publicBase = strings.TrimSuffix(publicBase, "/") + "/" + bucket
	}

	return &s3Uploader{
		api:          api,
		bucket:       bucket,
		pathTemplate: template,
		publicBase:   publicBase,
	}, nil
}

func (u *s3Uploader) Upload(ctx context.Context, filename string, payload []byte) (string, error) {
	key := u.objectKey(filename, time.Now().UTC())
	size := int64(len(payload))
	contentType := "application/zip"

	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &u.bucket,
		Key:           &key,
		Body:          bytes.NewReader(payload),
		ContentLength: &size,
		ContentType:   &contentType,
	})
	if err != nil {
		return "", err
	}
	return u.publicBase + "/" + key, nil
}

func (u *s3Uploader) objectKey(filename string, now time.Time) string {
	key := u.pathTemplate
	key = strings.ReplaceAll(key, "{Y}", now.Format("2006"))
	key = strings.ReplaceAll(key, "{m}", now.Format("01"))
	key = strings.ReplaceAll(key, "{d}", now.Format("02"))
	key = strings.ReplaceAll(key, "{filename}", filename)
	key = strings.TrimPrefix(key, "/")
	return key
}
