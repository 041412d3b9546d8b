// Package miniodriver is a blobstorage.Backend over minio-go's low level Core
// API, which exposes the multipart calls the high level client hides.
package miniodriver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/blobstorage"
	"github.com/dmitrijs2005/gridstore/internal/netx"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	// Endpoint is host:port without a scheme.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

type Driver struct {
	core   *minio.Core
	bucket string
}

func New(core *minio.Core, bucket string) *Driver {
	return &Driver{core: core, bucket: bucket}
}

// Dialer returns a blobstorage.Dialer whose connections share one Core and
// so one HTTP connection pool. The Core is built on the first dial; a failed
// build is retried on the next one. Region must be set: presigning then needs
// no bucket location round trip.
func Dialer(cfg Config) blobstorage.Dialer {
	var (
		mu     sync.Mutex
		shared *Driver
	)
	return func(ctx context.Context) (blobstorage.Backend, error) {
		mu.Lock()
		defer mu.Unlock()

		if shared != nil {
			return shared, nil
		}
		core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
			Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure:    cfg.Secure,
			Region:    cfg.Region,
			Transport: netx.NewClient().Transport,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		shared = New(core, cfg.Bucket)
		return shared, nil
	}
}

func (d *Driver) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	return d.core.NewMultipartUpload(ctx, d.bucket, key, minio.PutObjectOptions{})
}

func (d *Driver) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("partNumber", strconv.Itoa(int(partNumber)))
	params.Set("uploadId", uploadID)

	u, err := d.core.Presign(ctx, "PUT", d.bucket, key, ttl, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (d *Driver) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []blobstorage.Part) error {
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, minio.CompletePart{PartNumber: int(p.PartNumber), ETag: p.ETag})
	}

	_, err := d.core.CompleteMultipartUpload(ctx, d.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		switch resp.Code {
		case "InvalidPart", "InvalidPartOrder", "EntityTooSmall":
			return fmt.Errorf("%w: %s", blobstorage.ErrInvalidPart, resp.Message)
		case "NoSuchUpload":
			return fmt.Errorf("%w: %s", blobstorage.ErrNoSuchUpload, uploadID)
		}
		return err
	}
	return nil
}

func (d *Driver) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	err := d.core.AbortMultipartUpload(ctx, d.bucket, key, uploadID)
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchUpload" {
		return nil // already gone
	}
	return err
}

func (d *Driver) PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := d.core.PresignedGetObject(ctx, d.bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Close is a no-op; the Core outlives the connection and is reused by the
// next dial.
func (d *Driver) Close() error {
	return nil
}
