package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	gcsapi "google.golang.org/api/storage/v1"
)

// Archiver keeps a copy of uploaded images.
type Archiver interface {
	Backend() string
	PutObject(ctx context.Context, objectPath, contentType string, data []byte) error
}

type GCSArchive struct {
	bucketName string
	service    *gcsapi.Service
}

// NewGCSArchive connects with application default credentials and checks that
// the bucket is reachable.
func NewGCSArchive(ctx context.Context, bucketName string) (*GCSArchive, error) {
	trimmedBucket := strings.TrimSpace(bucketName)
	if trimmedBucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	service, err := gcsapi.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs service: %w", err)
	}

	if _, err := service.Buckets.Get(trimmedBucket).Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("read gcs bucket attrs: %w", err)
	}

	return &GCSArchive{bucketName: trimmedBucket, service: service}, nil
}

func (a *GCSArchive) Backend() string {
	return "gcs"
}

func (a *GCSArchive) PutObject(ctx context.Context, objectPath, contentType string, data []byte) error {
	cleanPath := strings.Trim(strings.TrimSpace(objectPath), "/")
	if cleanPath == "" {
		return errors.New("object path is required")
	}

	object := &gcsapi.Object{
		Name:        cleanPath,
		ContentType: contentType,
	}
	if _, err := a.service.Objects.Insert(a.bucketName, object).Media(bytes.NewReader(data)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write gcs object %q: %w", cleanPath, err)
	}
	return nil
}

// archiveUpload never fails the request; errors are only logged.
func (c *Client) archiveUpload(ctx context.Context, userID int64, data []byte) {
	if c.archive == nil {
		return
	}

	contentType := http.DetectContentType(data)
	objectPath := archivePath(c.archivePrefix, userID, uuid.NewString(), contentType)
	if err := c.archive.PutObject(ctx, objectPath, contentType, data); err != nil {
		c.log.Warn().Err(err).Str("backend", c.archive.Backend()).Str("object", objectPath).Msg("archive ocr upload failed")
		return
	}
	c.log.Debug().Str("backend", c.archive.Backend()).Str("object", objectPath).Msg("ocr upload archived")
}

func archivePath(prefix string, userID int64, id, contentType string) string {
	return path.Join(strings.Trim(prefix, "/"), strconv.FormatInt(userID, 10), id+extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
