package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig locates a bucket on MinIO or another S3-compatible store.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// objectAPI is the part of the MinIO client the source uses.
type objectAPI interface {
	list(ctx context.Context, prefix string) <-chan minio.ObjectInfo
	get(ctx context.Context, key string) (io.ReadCloser, error)
	put(ctx context.Context, key string, data []byte, contentType string) error
}

type minioAPI struct {
	client *minio.Client
	bucket string
}

func (m minioAPI) list(ctx context.Context, prefix string) <-chan minio.ObjectInfo {
	return m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
}

func (m minioAPI) get(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
}

func (m minioAPI) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Objects serves documents from a bucket. Paths are object keys relative
// to the configured prefix.
type Objects struct {
	api    objectAPI
	prefix string
}

// NewObjects connects to the bucket, creating it when missing.
func NewObjects(ctx context.Context, cfg ObjectConfig) (*Objects, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("source: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("source: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("source: create bucket: %w", err)
		}
	}
	return newObjects(minioAPI{client: client, bucket: cfg.Bucket}, cfg.Prefix), nil
}

func newObjects(api objectAPI, prefix string) *Objects {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Objects{api: api, prefix: prefix}
}

// List returns every object key below the prefix, minus directory markers.
func (o *Objects) List(ctx context.Context) ([]string, error) {
	var out []string
	for obj := range o.api.list(ctx, o.prefix) {
		if obj.Err != nil {
			return nil, fmt.Errorf("source: list objects: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, strings.TrimPrefix(obj.Key, o.prefix))
	}
	sort.Strings(out)
	return out, nil
}

// Read downloads one object.
func (o *Objects) Read(ctx context.Context, p string) ([]byte, error) {
	rc, err := o.api.get(ctx, o.key(p))
	if err != nil {
		return nil, fmt.Errorf("source: get %s: %w", p, err)
	}
	defer rc.Close()
	return readLimited(rc, p)
}

// Put uploads a document under the prefix.
func (o *Objects) Put(ctx context.Context, p string, data []byte) error {
	if int64(len(data)) > MaxDocumentBytes {
		return fmt.Errorf("source: %s: %w", p, ErrTooLarge)
	}
	ct := http.DetectContentType(data)
	if err := o.api.put(ctx, o.key(p), data, ct); err != nil {
		return fmt.Errorf("source: put %s: %w", p, err)
	}
	return nil
}

func (o *Objects) key(p string) string {
	return o.prefix + strings.TrimPrefix(path.Clean("/"+p), "/")
}
