package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"

	"messenger/internal/domain/chat"
	"messenger/internal/infra/config"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeStore struct {
	exists     bool
	made       int
	policy     string
	putKey     string
	putType    string
	putBody    string
	putErr     error
	checkCalls int
}

func (f *fakeStore) BucketExists(context.Context, string) (bool, error) {
	f.checkCalls++
	return f.exists, nil
}

func (f *fakeStore) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	f.made++
	f.exists = true
	return nil
}

func (f *fakeStore) SetBucketPolicy(_ context.Context, _, policy string) error {
	f.policy = policy
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	body, _ := io.ReadAll(r)
	f.putKey, f.putType, f.putBody = key, opts.ContentType, string(body)
	return minio.UploadInfo{Key: key}, nil
}

func newTestStore(store objectStore) *ImageStore {
	s := newImageStore(store, "images", "http://cdn.local/", nil)
	s.newKey = func() string { return "fixed" }
	return s
}

func TestUploadImageCreatesBucketOnce(t *testing.T) {
	store := &fakeStore{}
	s := newTestStore(store)

	url, err := s.UploadImage(context.Background(), "/tmp/Cat.PNG", pngBytes)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "http://cdn.local/images/chat-images/fixed.png" {
		t.Fatalf("url = %s", url)
	}
	if store.putType != "image/png" || store.putBody != string(pngBytes) {
		t.Fatalf("stored %q as %s", store.putBody, store.putType)
	}
	if !strings.Contains(store.policy, "arn:aws:s3:::images/chat-images/*") {
		t.Fatalf("policy = %s", store.policy)
	}

	if _, err := s.UploadImage(context.Background(), "noext", pngBytes); err != nil {
		t.Fatal(err)
	}
	if store.made != 1 || store.checkCalls != 1 {
		t.Fatalf("bucket initialised %d times, checked %d times", store.made, store.checkCalls)
	}
	if store.putKey != "chat-images/fixed.png" {
		t.Fatalf("extension should come from content when the name has none: %s", store.putKey)
	}
}

func TestUploadImageRejectsBadInput(t *testing.T) {
	s := newTestStore(&fakeStore{})
	if _, err := s.UploadImage(context.Background(), "a.png", nil); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := s.UploadImage(context.Background(), "a.txt", []byte("hello there")); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("text: %v", err)
	}
}

func TestUploadFailureIsNetworkError(t *testing.T) {
	s := newTestStore(&fakeStore{exists: true, putErr: errors.New("connection reset")})
	if _, err := s.UploadImage(context.Background(), "a.png", pngBytes); !errors.Is(err, chat.ErrNetwork) {
		t.Fatalf("got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(config.S3Config{Bucket: "b"}, nil); err == nil {
		t.Fatal("expected endpoint error")
	}
	if _, err := New(config.S3Config{Endpoint: "http://localhost:9000"}, nil); err == nil {
		t.Fatal("expected bucket error")
	}
	s, err := New(config.S3Config{Endpoint: "http://localhost:9000", Bucket: "b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.publicBaseURL != "http://localhost:9000" {
		t.Fatalf("public base = %s", s.publicBaseURL)
	}
}
