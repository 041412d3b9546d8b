// Package s3driver is a blobstorage.Backend over aws-sdk-go-v2. It works with
// any S3-compatible endpoint (SeaweedFS, MinIO, AWS).
package s3driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/gridstore/internal/blobstorage"
	"github.com/dmitrijs2005/gridstore/internal/netx"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

const noSuchUpload = "NoSuchUpload"

// manifest rejections reported by S3 on CompleteMultipartUpload
var invalidPartCodes = map[string]bool{
	"InvalidPart":      true,
	"InvalidPartOrder": true,
	"EntityTooSmall":   true,
}

// API is the subset of *s3.Client the driver calls.
type API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Presigner is the subset of *s3.PresignClient the driver calls.
type Presigner interface {
	PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Config struct {
	// Endpoint is the base URL, e.g. http://seaweedfs:8333.
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type Driver struct {
	api     API
	presign Presigner
	bucket  string
}

func New(api API, presign Presigner, bucket string) *Driver {
	return &Driver{api: api, presign: presign, bucket: bucket}
}

// Dialer builds one client with static credentials and path-style
// addressing, which S3-compatible servers expect, and hands it to every
// connection. The AWS config is loaded on the first dial; a failed load is
// retried on the next one.
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
		awsCfg, err := loadDefaultAWSConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithHTTPClient(netx.NewClient()),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey,
				cfg.SecretKey,
				"",
			)))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = true
		})
		shared = New(client, newS3PresignClient(client), cfg.Bucket)
		return shared, nil
	}
}

func (d *Driver) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	out, err := d.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", err
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return "", errors.New("backend returned no upload id")
	}
	return *out.UploadId, nil
}

func (d *Driver) PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	req, err := d.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

func (d *Driver) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []blobstorage.Part) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}

	_, err := d.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(d.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch {
		case invalidPartCodes[apiErr.ErrorCode()]:
			return fmt.Errorf("%w: %s", blobstorage.ErrInvalidPart, apiErr.ErrorMessage())
		case apiErr.ErrorCode() == noSuchUpload:
			return fmt.Errorf("%w: %s", blobstorage.ErrNoSuchUpload, uploadID)
		}
	}
	return err
}

func (d *Driver) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := d.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(d.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == noSuchUpload {
		return nil // already gone
	}
	return err
}

func (d *Driver) PresignGetObject(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// Close is a no-op; the SDK client and its pool are shared by every
// connection of the Dialer.
func (d *Driver) Close() error {
	return nil
}
