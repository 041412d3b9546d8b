package blobstorage

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/netx"
)

// Retrieval is a time-boxed download URL.
type Retrieval struct {
	URL string `json:"url"`

	client *http.Client
}

// Fetch downloads the object.
func (r *Retrieval) Fetch(ctx context.Context) ([]byte, error) {
	client := r.client
	if client == nil {
		client = netx.NewClient()
	}
	data, err := netx.Download(ctx, client, r.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrTransferFailed, err)
	}
	return data, nil
}
