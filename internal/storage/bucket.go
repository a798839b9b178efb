package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"usrbg-bot/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrContentTypeNotAllowed means the fetched image declared a MIME type
	// outside the configured allow-list. The submission-time check is not
	// trusted here: the URL may be stale or malicious by upload time.
	ErrContentTypeNotAllowed = errors.New("storage: content type not allowed")
	// ErrImageTooLarge means the fetched image exceeds the size ceiling.
	ErrImageTooLarge = errors.New("storage: image exceeds size limit")
)

// BucketStorage uploads approved images to an S3-compatible bucket and
// serves back publicly resolvable references.
type BucketStorage struct {
	client        *minio.Client
	httpClient    *http.Client
	bucket        string
	pathPrefix    string
	publicBaseURL string
	allowedTypes  []string
	maxSize       int64
}

// NewBucketStorage creates a BucketStorage from the application configuration.
func NewBucketStorage(cfg *config.Config) (*BucketStorage, error) {
	client, err := minio.New(cfg.StorageEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.StorageAccessKey, cfg.StorageSecretKey, ""),
		Secure: cfg.StorageUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bucket client: %w", err)
	}

	return &BucketStorage{
		client:        client,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		bucket:        cfg.StorageBucket,
		pathPrefix:    cfg.StoragePathPrefix,
		publicBaseURL: strings.TrimSuffix(cfg.StoragePublicURL, "/"),
		allowedTypes:  cfg.AllowedImageTypes,
		maxSize:       cfg.MaxImageSize,
	}, nil
}

// Upload fetches the image at imageURL, re-validates its content type and
// size, and stores it under a path derived from the submitter's user ID.
// It returns the public URL of the stored object.
func (s *BucketStorage) Upload(ctx context.Context, imageURL, uid string) (string, error) {
	body, contentType, err := fetchImage(ctx, s.httpClient, imageURL, s.allowedTypes, s.maxSize)
	if err != nil {
		return "", err
	}

	objectName := s.pathPrefix + uid
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload image for uid %s: %w", uid, err)
	}

	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, objectName), nil
}

// Delete removes the stored object for the given user ID.
func (s *BucketStorage) Delete(ctx context.Context, uid string) error {
	objectName := s.pathPrefix + uid
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete stored image for uid %s: %w", uid, err)
	}
	return nil
}

// fetchImage downloads the image and enforces the content-type allow-list
// and the size ceiling on the actual response, not the attachment metadata.
func fetchImage(ctx context.Context, client *http.Client, imageURL string, allowedTypes []string, maxSize int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch image: unexpected status %d", resp.StatusCode)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse image content type: %w", err)
	}
	if !slices.Contains(allowedTypes, mediaType) {
		return nil, "", fmt.Errorf("%w: %s", ErrContentTypeNotAllowed, mediaType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(body)) > maxSize {
		return nil, "", ErrImageTooLarge
	}

	return body, mediaType, nil
}
