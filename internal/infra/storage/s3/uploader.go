// Package s3 uploads chat images straight to an S3-compatible bucket and
// hands back the public URL that is then sent with the message.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"messenger/internal/domain/chat"
	"messenger/internal/infra/config"
)

const keyPrefix = "chat-images"

// objectStore is the part of *minio.Client the uploader drives.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	SetBucketPolicy(ctx context.Context, bucket, policy string) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type ImageStore struct {
	bucket        string
	publicBaseURL string
	store         objectStore
	logger        *slog.Logger
	newKey        func() string

	bucketInitOnce sync.Once
	bucketInitErr  error
}

// New builds an uploader from the S3 section of the client configuration.
func New(cfg config.S3Config, logger *slog.Logger) (*ImageStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	client, err := minio.New(hostOf(endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	public := strings.TrimSpace(cfg.PublicEndpoint)
	if public == "" {
		public = endpoint
	}
	return newImageStore(client, bucket, public, logger), nil
}

func newImageStore(store objectStore, bucket, publicBaseURL string, logger *slog.Logger) *ImageStore {
	return &ImageStore{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		store:         store,
		logger:        logger,
		newKey:        uuid.NewString,
	}
}

// UploadImage stores data under chat-images/<uuid><ext> and returns its URL.
func (s *ImageStore) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", chat.Validationf("image is empty")
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", chat.Validationf("%s is not an image", mime.String())
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", chat.NewError(chat.KindNetwork, "image storage unavailable", err)
	}

	key := s.objectKey(filename, mime.Extension())
	_, err := s.store.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mime.String(),
	})
	if err != nil {
		return "", chat.NewError(chat.KindNetwork, "image upload failed", fmt.Errorf("s3: put object: %w", err))
	}

	publicURL := s.objectURL(key)
	if s.logger != nil {
		s.logger.Info("s3 upload completed", "bucket", s.bucket, "key", key, "url", publicURL)
	}
	return publicURL, nil
}

func (s *ImageStore) objectKey(filename, detectedExt string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if ext == "" || len(ext) > 6 {
		ext = detectedExt
	}
	return keyPrefix + "/" + s.newKey() + ext
}

func (s *ImageStore) ensureBucket(ctx context.Context) error {
	s.bucketInitOnce.Do(func() {
		exists, err := s.store.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketInitErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.store.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			s.bucketInitErr = fmt.Errorf("s3: create bucket: %w", err)
			return
		}
		if err := s.allowPublicRead(ctx); err != nil {
			s.bucketInitErr = err
		}
	})
	return s.bucketInitErr
}

// Recipients fetch images by URL without credentials.
func (s *ImageStore) allowPublicRead(ctx context.Context) error {
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/%s/*"]}]}`, s.bucket, keyPrefix)
	if err := s.store.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("s3: set bucket policy: %w", err)
	}
	return nil
}

func (s *ImageStore) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, strings.TrimLeft(key, "/"))
}

func hostOf(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}
