package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type gcsConfig struct {
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	PublicURL       string `json:"public_url"`
	CredentialsFile string `json:"credentials_file"`
	EmulatorHost    string `json:"emulator_host"`
}

type gcsStore struct {
	client    *storage.Client
	bucket    string
	prefix    string
	publicURL string
}

func init() {
	Register("gcs", createGCSStore)
}

func createGCSStore(args interface{}) (Store, error) {
	config := &gcsConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	var opts []option.ClientOption
	switch {
	case config.EmulatorHost != "":
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(config.EmulatorHost, "/"))
		opts = append(opts, option.WithoutAuthentication())
	case config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile), option.WithScopes(storage.ScopeReadWrite))
	default:
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &gcsStore{
		client:    client,
		bucket:    config.Bucket,
		prefix:    strings.Trim(config.Prefix, "/"),
		publicURL: config.PublicURL,
	}, nil
}

func (s *gcsStore) Type() string {
	return "gcs"
}

func (s *gcsStore) URL(key string) string {
	objectKey := strings.TrimPrefix(joinPrefix(s.prefix, key), "/")
	if s.publicURL != "" {
		return strings.TrimSuffix(s.publicURL, "/") + "/" + objectKey
	}
	return "https://storage.googleapis.com/" + s.bucket + "/" + objectKey
}

func (s *gcsStore) Save(ctx context.Context, key string, r io.Reader, size int64, opts SaveOptions) error {
	_ = size
	cleaned, err := CleanKey(key)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(joinPrefix(s.prefix, cleaned)).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gcs object %s: %w", cleaned, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gcs writer %s: %w", cleaned, err)
	}
	return nil
}
