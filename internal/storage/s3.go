// Package storage implements the physical upload transport for captured media.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/vidfriends/groupcast/internal/config"
	"github.com/vidfriends/groupcast/internal/models"
)

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Transport implements uploads.Transport backed by an S3-compatible service.
type S3Transport struct {
	uploader objectUploader
	bucket   string
	baseURL  string
	keyFunc  func() string
}

// NewS3Transport configures an uploader targeting the provided object store.
func NewS3Transport(ctx context.Context, cfg config.ObjectStoreConfig) (*S3Transport, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 transport: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return newS3Transport(uploader, cfg.Bucket, cfg.PublicBaseURL), nil
}

func newS3Transport(uploader objectUploader, bucket, baseURL string) *S3Transport {
	return &S3Transport{
		uploader: uploader,
		bucket:   bucket,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		keyFunc:  uuid.NewString,
	}
}

// Upload streams the local capture referenced by media into the bucket and
// returns its public location. Progress tops out at 99 until the object store
// acknowledges the write.
func (s *S3Transport) Upload(ctx context.Context, media models.MediaDescriptor, progress func(int)) (string, error) {
	path := localPath(media.SourceURI)
	if path == "" {
		return "", fmt.Errorf("s3 transport: empty source")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	size := media.Size
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		size = info.Size()
	}

	contentType := media.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}

	key := objectKey(media.Kind, s.keyFunc(), path, contentType)

	body := &progressReader{r: f, total: size, report: progress}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
		ACL:    s3types.ObjectCannedACLPublicRead,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("s3 transport upload %s: %w", key, err)
	}

	if s.baseURL == "" {
		return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
	}
	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

func localPath(source string) string {
	source = strings.TrimSpace(source)
	return strings.TrimPrefix(source, "file://")
}

func objectKey(kind models.MediaKind, id, path, contentType string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" && contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("%s/%s%s", kind, id, ext)
}

// progressReader converts bytes consumed by the uploader into a percentage.
type progressReader struct {
	r      io.Reader
	total  int64
	report func(int)

	mu   sync.Mutex
	read int64
	last int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 && p.report != nil {
		p.mu.Lock()
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 99 {
			percent = 99
		}
		changed := percent > p.last
		if changed {
			p.last = percent
		}
		p.mu.Unlock()

		if changed {
			p.report(percent)
		}
	}
	return n, err
}
