package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

const archiveContentType = "text/html; charset=utf-8"

// Archiver writes fetched pages to a blob store under <prefix>/<digest>.html.
type Archiver struct {
	blobs  crawler.BlobStore
	hasher crawler.Hasher
	prefix string
	logger *zap.Logger
}

// NewArchiver returns nil when blobs is nil, which disables archiving.
func NewArchiver(blobs crawler.BlobStore, hasher crawler.Hasher, prefix string, logger *zap.Logger) *Archiver {
	if blobs == nil || hasher == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{blobs: blobs, hasher: hasher, prefix: prefix, logger: logger}
}

// Archive stores body and returns its URI. Failures are logged and never
// reach the caller's result.
func (a *Archiver) Archive(ctx context.Context, sourceURL string, body []byte) string {
	if a == nil {
		return ""
	}
	uri, err := a.put(ctx, body)
	if err != nil {
		a.logger.Warn("archive page failed", zap.String("url", sourceURL), zap.Error(err))
		return ""
	}
	a.logger.Debug("archived page", zap.String("url", sourceURL), zap.String("uri", uri))
	return uri
}

func (a *Archiver) put(ctx context.Context, body []byte) (string, error) {
	digest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, path.Join(a.prefix, digest+".html"), archiveContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("put page: %w", err)
	}
	return uri, nil
}
