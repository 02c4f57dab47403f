package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"prodvault/types"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures the Google Cloud Storage blob store.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSBlob implements BlobStore on a GCS bucket.
type GCSBlob struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSBlob connects to GCS. Application Default Credentials are preferred;
// GCS_CREDENTIALS_JSON provides explicit JSON credentials for local runs.
func NewGCSBlob(ctx context.Context, cfg GCSConfig) (*GCSBlob, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket is required", types.ErrStorage)
	}

	var client *gcs.Client
	var err error
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err = gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		client, err = gcs.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: gcs client: %v", types.ErrStorage, err)
	}
	return &GCSBlob{client: client, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.Prefix)}, nil
}

func (b *GCSBlob) object(key string) *gcs.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.prefix + key)
}

func (b *GCSBlob) Put(ctx context.Context, key string, data []byte) error {
	w := b.object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return wrapErr(err, "gcs put", key)
	}
	if err := w.Close(); err != nil {
		return wrapErr(err, "gcs put", key)
	}
	return nil
}

func (b *GCSBlob) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: blob %q", types.ErrNotFound, key)
		}
		return nil, wrapErr(err, "gcs get", key)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapErr(err, "gcs read", key)
	}
	return data, nil
}

func (b *GCSBlob) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, wrapErr(err, "gcs attrs", key)
}

func (b *GCSBlob) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcs.Query{Prefix: b.prefix + prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapErr(err, "gcs list", prefix)
		}
		keys = append(keys, strings.TrimPrefix(attrs.Name, b.prefix))
	}
	return keys, nil
}

func (b *GCSBlob) Delete(ctx context.Context, key string) error {
	err := b.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return wrapErr(err, "gcs delete", key)
	}
	return nil
}

// Close releases the underlying client.
func (b *GCSBlob) Close() error {
	return b.client.Close()
}
