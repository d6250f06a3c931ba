package backing

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectStore serves an S3/Minio bucket. Object names are used as keys
// directly.
type objectStore struct {
	client *minio.Client
	bucket string
}

func newObjectStore(cfg Config) (*objectStore, error) {
	// Minio expects endpoint without scheme
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	timeoutDuration := time.Duration(timeout) * time.Second

	// Custom transport with strict timeouts so a wedged storage endpoint
	// cannot hang enumeration forever.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeoutDuration,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeoutDuration,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeoutDuration,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &objectStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *objectStore) List(ctx context.Context, fn ListFunc) error {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			if isAccessDenied(obj.Err) {
				if cbErr := fn(EntryInfo{Key: obj.Key}, fmt.Errorf("%s: %w", obj.Key, ErrPermissionDenied)); cbErr != nil {
					return cbErr
				}
				continue
			}
			return fmt.Errorf("error listing bucket %s: %w", s.bucket, obj.Err)
		}
		if err := fn(EntryInfo{Key: obj.Key, Size: obj.Size, ModifiedAt: obj.LastModified}, nil); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *objectStore) Stat(ctx context.Context, key string) (EntryInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return EntryInfo{}, s.mapError(key, err)
	}
	return EntryInfo{Key: key, Size: info.Size, ModifiedAt: info.LastModified}, nil
}

func (s *objectStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(key, err)
	}
	// GetObject is lazy; surface missing objects now instead of on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.mapError(key, err)
	}
	return obj, nil
}

// Write relies on PutObject being atomic: the object becomes visible only
// once the upload completes.
func (s *objectStore) Write(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *objectStore) mapError(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	case "AccessDenied":
		return fmt.Errorf("%s: %w", key, ErrPermissionDenied)
	default:
		return fmt.Errorf("storage error for %s: %w", key, err)
	}
}

func isAccessDenied(err error) bool {
	return minio.ToErrorResponse(err).Code == "AccessDenied"
}
