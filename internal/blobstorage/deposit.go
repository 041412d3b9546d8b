package blobstorage

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/netx"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Completer finishes an upload once every part is stored.
type Completer interface {
	MarkWriteComplete(ctx context.Context, id uuid.UUID, parts []Part) error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, id uuid.UUID, parts []Part) error

func (f CompleterFunc) MarkWriteComplete(ctx context.Context, id uuid.UUID, parts []Part) error {
	return f(ctx, id, parts)
}

// Deposit is the set of presigned part URLs for one upload, URLs[i] being
// part i+1. It is handed to the uploading client and never persisted.
type Deposit struct {
	EntryID   uuid.UUID `json:"entry_id"`
	URLs      []string  `json:"urls"`
	ChunkSize int64     `json:"chunk_size"`

	client      *http.Client
	concurrency int
}

// Upload PUTs data to the deposit's URLs, one ChunkSize chunk per URL. At
// most DefaultConcurrency parts are in flight unless the issuing client set
// another limit; the first failure cancels the rest and no manifest is
// returned. The returned parts are ordered by part number.
func (d *Deposit) Upload(ctx context.Context, data []byte) ([]Part, error) {
	if d.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", common.ErrorValidation, d.ChunkSize)
	}
	chunks := SplitChunks(data, d.ChunkSize)
	if len(chunks) != len(d.URLs) {
		return nil, fmt.Errorf("%w: %d bytes split into %d chunks but deposit has %d urls",
			common.ErrorValidation, len(data), len(chunks), len(d.URLs))
	}

	client := d.client
	if client == nil {
		client = netx.NewClient()
	}

	parts := make([]Part, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	limit := d.concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for i := range chunks {
		g.Go(func() error {
			etag, err := netx.PutPart(gctx, client, d.URLs[i], chunks[i])
			if err != nil {
				return fmt.Errorf("%w: part %d: %v", common.ErrTransferFailed, i+1, err)
			}
			parts[i] = Part{PartNumber: int32(i + 1), ETag: etag}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// Write uploads data and hands the manifest to completer.
func (d *Deposit) Write(ctx context.Context, data []byte, completer Completer) error {
	parts, err := d.Upload(ctx, data)
	if err != nil {
		return err
	}
	return completer.MarkWriteComplete(ctx, d.EntryID, parts)
}
