package artifact

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// R2Config configures the Cloudflare R2 (S3-compatible) artifact store.
type R2Config struct {
	Enabled         bool   `yaml:"enabled"`
	AccountID       string `yaml:"account_id"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	// PublicURL is the public base URL the bucket is served from.
	PublicURL string `yaml:"public_url"`
}

// R2Store persists artifacts to an R2 bucket. Generated images live under
// images/<yyyymm>/ keyed by content hash; signatures under signatures/.
type R2Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	httpc     *http.Client
	logger    *slog.Logger
}

var imageExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/bmp":     "bmp",
	"image/svg+xml": "svg",
}

// NewR2Store builds an R2-backed Store, or Disabled when the configuration
// is absent or incomplete.
func NewR2Store(cfg R2Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return Disabled{}, nil
	}
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		logger.Warn("artifact store enabled but configuration incomplete, uploads disabled")
		return Disabled{}, nil
	}

	endpoint := fmt.Sprintf("%s.r2.cloudflarestorage.com", cfg.AccountID)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: true,
		Region: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("create r2 client: %w", err)
	}

	logger.Info("artifact store ready", "bucket", cfg.Bucket)
	return &R2Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		httpc:     &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}, nil
}

func (s *R2Store) Enabled() bool { return true }

// StoreImage uploads image bytes under a content-hash key and returns the
// public URL.
func (s *R2Store) StoreImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	ext, ok := imageExtensions[strings.ToLower(mimeType)]
	if !ok {
		ext = "png"
	}
	sum := md5.Sum(data)
	key := fmt.Sprintf("images/%s/%s_%d.%s",
		time.Now().Format("200601"),
		hex.EncodeToString(sum[:])[:16],
		time.Now().UnixMilli(),
		ext,
	)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  mimeType,
		CacheControl: "public, max-age=31536000",
	})
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return s.publicURL + "/" + key, nil
}

// StoreText uploads a text payload under signatures/<name>.
func (s *R2Store) StoreText(ctx context.Context, text, name string) (string, error) {
	key := "signatures/" + name
	_, err := s.client.PutObject(ctx, s.bucket, key, strings.NewReader(text), int64(len(text)), minio.PutObjectOptions{
		ContentType:  "text/plain",
		CacheControl: "public, max-age=2592000",
	})
	if err != nil {
		return "", fmt.Errorf("upload text: %w", err)
	}
	return s.publicURL + "/" + key, nil
}

// Fetch retrieves an artifact through its public URL.
func (s *R2Store) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch artifact: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
