package blobstorage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/logging"
	"github.com/dmitrijs2005/gridstore/internal/netx"
)

const (
	DefaultChunkSize   int64 = 8 << 20
	DefaultReadURLTTL        = 30 * time.Minute
	DefaultWriteURLTTL       = 15 * time.Minute
	DefaultConcurrency       = 4
)

// Options tune the protocol. Zero fields take the defaults above.
type Options struct {
	ChunkSize   int64
	ReadURLTTL  time.Duration
	WriteURLTTL time.Duration
	// Concurrency bounds the part uploads a Deposit runs at once.
	Concurrency int
	// HTTPClient performs presigned transfers.
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ReadURLTTL <= 0 {
		o.ReadURLTTL = DefaultReadURLTTL
	}
	if o.WriteURLTTL <= 0 {
		o.WriteURLTTL = DefaultWriteURLTTL
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.HTTPClient == nil {
		o.HTTPClient = netx.NewClient()
	}
	return o
}

// Client hands out connections to the blob backend.
type Client struct {
	dial   Dialer
	opts   Options
	logger logging.Logger
}

func NewClient(dial Dialer, opts Options, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{dial: dial, opts: opts.withDefaults(), logger: logger}
}

func (c *Client) Options() Options {
	return c.opts
}

// Connect opens a connection; callers close it when the operation is done.
func (c *Client) Connect(ctx context.Context) (*Connection, error) {
	b, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", common.ErrBackendUnavailable, err)
	}
	return &Connection{backend: b, opts: c.opts, logger: c.logger}, nil
}
