package blobstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/logging"
	"github.com/dmitrijs2005/gridstore/internal/models"
)

// Connection is one session with the blob backend.
type Connection struct {
	backend Backend
	opts    Options
	logger  logging.Logger
}

// Allocate opens a multipart session for the object and returns where it lives.
func (c *Connection) Allocate(ctx context.Context, create models.CreateBlobStorageEntry) (models.SecureFilePathLocation, error) {
	path := create.Path()
	uploadID, err := c.backend.CreateMultipartUpload(ctx, path)
	if err != nil {
		return models.SecureFilePathLocation{}, unavailable("create multipart upload", path, err)
	}
	return models.SecureFilePathLocation{ID: uploadID, Path: path}, nil
}

// Write presigns one upload URL per part of entry, in part-number order.
func (c *Connection) Write(ctx context.Context, entry *models.BlobStorageEntry) (*Deposit, error) {
	if entry.FileSize < 0 {
		return nil, fmt.Errorf("%w: negative file size %d", common.ErrorValidation, entry.FileSize)
	}
	total := TotalParts(entry.FileSize, c.opts.ChunkSize)
	if total > MaxParts {
		return nil, fmt.Errorf("%w: %d bytes need %d parts of %d, limit is %d",
			common.ErrorValidation, entry.FileSize, total, c.opts.ChunkSize, MaxParts)
	}

	urls := make([]string, 0, total)
	for n := int32(1); int64(n) <= total; n++ {
		url, err := c.backend.PresignUploadPart(ctx, entry.Location.Path, entry.Location.ID, n, c.opts.WriteURLTTL)
		if err != nil {
			return nil, unavailable(fmt.Sprintf("presign part %d", n), entry.Location.Path, err)
		}
		urls = append(urls, url)
	}

	return &Deposit{
		EntryID:     entry.ID,
		URLs:        urls,
		ChunkSize:   c.opts.ChunkSize,
		client:      c.opts.HTTPClient,
		concurrency: c.opts.Concurrency,
	}, nil
}

// CompleteMultipartUpload assembles the object from the uploaded parts. The
// manifest must name every part of entry exactly once.
func (c *Connection) CompleteMultipartUpload(ctx context.Context, entry *models.BlobStorageEntry, parts []Part) error {
	total := TotalParts(entry.FileSize, c.opts.ChunkSize)
	ordered, err := ValidateManifest(parts, total)
	if err != nil {
		return err
	}

	err = c.backend.CompleteMultipartUpload(ctx, entry.Location.Path, entry.Location.ID, ordered)
	if errors.Is(err, ErrInvalidPart) {
		return fmt.Errorf("%w: backend rejected manifest for %s: %v", common.ErrUploadIncomplete, entry.Location.Path, err)
	}
	if errors.Is(err, ErrNoSuchUpload) {
		return fmt.Errorf("%w: session for %s is gone: %w", common.ErrTransferFailed, entry.Location.Path, err)
	}
	if err != nil {
		return unavailable("complete multipart upload", entry.Location.Path, err)
	}
	return nil
}

// Read presigns a download of the object at loc.
func (c *Connection) Read(ctx context.Context, loc models.SecureFilePathLocation) (*Retrieval, error) {
	url, err := c.backend.PresignGetObject(ctx, loc.Path, c.opts.ReadURLTTL)
	if err != nil {
		return nil, unavailable("presign get", loc.Path, err)
	}
	return &Retrieval{URL: url, client: c.opts.HTTPClient}, nil
}

// Abort discards the multipart session and any uploaded parts.
func (c *Connection) Abort(ctx context.Context, loc models.SecureFilePathLocation) error {
	if err := c.backend.AbortMultipartUpload(ctx, loc.Path, loc.ID); err != nil {
		return unavailable("abort multipart upload", loc.Path, err)
	}
	return nil
}

func (c *Connection) Close() error {
	return c.backend.Close()
}

func unavailable(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", common.ErrBackendUnavailable, op, path, err)
}
