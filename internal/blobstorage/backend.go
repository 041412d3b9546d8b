// Package blobstorage implements the large-binary protocol of the node:
// a blob is allocated as a multipart session on an S3-compatible backend,
// written by the client through presigned per-part URLs, completed with the
// manifest of part tags and read back through a presigned GET.
package blobstorage

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPart is returned by drivers when the backend rejects a
// completion manifest (unknown part, wrong tag, parts out of order).
var ErrInvalidPart = errors.New("invalid part")

// ErrNoSuchUpload is returned by drivers when the multipart session no
// longer exists on the backend. The upload cannot be finished.
var ErrNoSuchUpload = errors.New("no such upload")

// Part pairs an uploaded part number with the tag the backend returned for it.
type Part struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

// Backend is a driver for an S3-compatible multipart API.
type Backend interface {
	CreateMultipartUpload(ctx context.Context, key string) (uploadID string, err error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error)
	Close() error
}

// Dialer opens a driver for one logical operation.
type Dialer func(ctx context.Context) (Backend, error)
