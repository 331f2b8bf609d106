// Package gcs archives raw API pages in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// BlobStore writes archived pages to one bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	owned  bool
}

// New connects a storage client with application default credentials.
func New(ctx context.Context, bucket string) (*BlobStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("archive.gcs_bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &BlobStore{client: client, bucket: bucket, owned: true}, nil
}

// NewWithClient wraps an existing client. Close leaves it open.
func NewWithClient(client *storage.Client, bucket string) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("archive.gcs_bucket is required")
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// PutObject uploads data and returns a gs:// URI. Archived pages are
// immutable, so an existing object with the same name is left untouched.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(path, "/")
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, path)

	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	if writer.ContentType == "" {
		writer.ContentType = "application/json"
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("upload %s: %w (close writer: %v)", uri, err, closeErr)
		}
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return uri, nil
		}
		return "", fmt.Errorf("finalize %s: %w", uri, err)
	}
	return uri, nil
}

// Close releases the client when this store created it.
func (s *BlobStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
