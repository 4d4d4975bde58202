// Package storage reads Sieve script sources. Scripts normally live on
// the local filesystem; in clustered deployments they may be served from
// S3-compatible object storage using s3://bucket/key paths.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/migadu/filterd/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ScriptSource resolves script paths to their contents.
type ScriptSource struct {
	client *minio.Client // nil when no S3 access is configured
}

// New creates a script source. cfg may be nil when only local files are
// used.
func New(cfg *config.S3Config) (*ScriptSource, error) {
	src := &ScriptSource{}
	if cfg == nil || cfg.Endpoint == "" {
		return src, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.DisableTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	if cfg.Trace {
		client.TraceOn(os.Stdout)
	}

	src.client = client
	return src, nil
}

// Read returns the contents of the script at path. Paths of the form
// s3://bucket/key are fetched from object storage, everything else from
// the local filesystem.
func (s *ScriptSource) Read(ctx context.Context, path string) ([]byte, error) {
	bucket, key, ok := splitS3Path(path)
	if !ok {
		if strings.HasPrefix(path, "s3://") {
			return nil, fmt.Errorf("malformed script path %q: want s3://bucket/key", path)
		}
		return os.ReadFile(path)
	}

	if s.client == nil {
		return nil, fmt.Errorf("script path %q requires an [s3] configuration section", path)
	}

	object, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", path, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	return data, nil
}

// splitS3Path splits "s3://bucket/key" into its parts.
func splitS3Path(path string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(path, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
