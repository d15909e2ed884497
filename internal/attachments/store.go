// Package attachments keeps idea uploads (voice notes, documents) in an
// S3-compatible bucket.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	MaxUploadBytes = 25 << 20
	presignTTL     = 15 * time.Minute
)

var (
	ErrNotConfigured = errors.New("attachment storage not configured")
	ErrTooLarge      = errors.New("attachment exceeds size limit")
	ErrEmptyUpload   = errors.New("attachment is empty")
)

// objectClient is the subset of *minio.Client the store uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, params url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

type Store struct {
	client objectClient
	bucket string
}

type Object struct {
	Key         string
	Filename    string
	ContentType string
	Size        int64
}

// New connects to a MinIO (or S3) endpoint. An empty endpoint yields a nil
// store; callers treat that as attachments being disabled.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, nil
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return ErrNotConfigured
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload stores the content under a fresh key scoped to the idea. When the
// caller has no content type it is sniffed from the first 512 bytes.
func (s *Store) Upload(ctx context.Context, ideaID, filename, contentType string, r io.Reader, size int64) (Object, error) {
	if s == nil {
		return Object{}, ErrNotConfigured
	}
	if size == 0 {
		return Object{}, ErrEmptyUpload
	}
	if size > MaxUploadBytes {
		return Object{}, ErrTooLarge
	}

	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, 512)
		n, err := io.ReadFull(r, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return Object{}, fmt.Errorf("read upload: %w", err)
		}
		head = head[:n]
		contentType = http.DetectContentType(head)
		r = io.MultiReader(strings.NewReader(string(head)), r)
	}

	obj := Object{
		Key:         ObjectKey(ideaID, filename),
		Filename:    CleanFilename(filename),
		ContentType: contentType,
		Size:        size,
	}
	info, err := s.client.PutObject(ctx, s.bucket, obj.Key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", obj.Key, err)
	}
	if info.Size > 0 {
		obj.Size = info.Size
	}
	return obj, nil
}

// PresignedURL returns a short-lived download link that names the file.
func (s *Store) PresignedURL(ctx context.Context, key, filename string) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil {
		return ErrNotConfigured
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// ObjectKey builds "ideas/<idea>/<uuid>-<filename>".
func ObjectKey(ideaID, filename string) string {
	return path.Join("ideas", ideaID, uuid.NewString()+"-"+CleanFilename(filename))
}

// CleanFilename strips directories and anything outside a conservative set
// of characters.
func CleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	cleaned := strings.TrimLeft(b.String(), ".")
	if cleaned == "" {
		return "upload"
	}
	if len(cleaned) > 100 {
		cleaned = cleaned[len(cleaned)-100:]
	}
	return cleaned
}
