// Package netx performs the HTTP transfers behind presigned URLs.
package netx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

// maxErrorBody caps how much of a failed response ends up in the error.
const maxErrorBody = 512

// NewClient returns a pooled client without shared global state.
func NewClient() *http.Client {
	return cleanhttp.DefaultPooledClient()
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s; body: %s", e.Method, e.Status, e.Body)
}

// PutPart uploads one part to a presigned upload-part URL and returns the
// ETag the storage answered with.
func PutPart(ctx context.Context, client *http.Client, url string, part []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(part))
	if err != nil {
		return "", err
	}
	req.ContentLength = int64(len(part))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(http.MethodPut, resp); err != nil {
		return "", err
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("PUT %s: response carries no ETag", redact(url))
	}
	return etag, nil
}

// Download reads the object behind a presigned GET URL.
func Download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(http.MethodGet, resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func checkStatus(method string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Method: method, Status: resp.Status, Code: resp.StatusCode, Body: string(b)}
}

// redact drops the query string, which carries the signature.
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
