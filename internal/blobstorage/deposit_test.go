package blobstorage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// partServer stores PUT bodies by partNumber and answers with etag-<n>.
type partServer struct {
	mu     sync.Mutex
	parts  map[int][]byte
	failOn int
}

func (s *partServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("partNumber"))
	if err != nil {
		http.Error(w, "bad part", http.StatusBadRequest)
		return
	}
	if n == s.failOn {
		http.Error(w, "AccessDenied", http.StatusForbidden)
		return
	}
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.parts[n] = body
	s.mu.Unlock()
	w.Header().Set("ETag", fmt.Sprintf("etag-%d", n))
}

func newDeposit(ts *httptest.Server, n int, chunk int64) *Deposit {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/obj?partNumber=%d", ts.URL, i+1)
	}
	return &Deposit{EntryID: uuid.New(), URLs: urls, ChunkSize: chunk, client: ts.Client(), concurrency: 2}
}

func TestDeposit_UploadSplitsIntoParts(t *testing.T) {
	srv := &partServer{parts: map[int][]byte{}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	data := bytes.Repeat([]byte("0123456789"), 250)
	parts, err := newDeposit(ts, 3, 1024).Upload(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, []Part{{1, "etag-1"}, {2, "etag-2"}, {3, "etag-3"}}, parts)
	assert.Equal(t, data[:1024], srv.parts[1])
	assert.Equal(t, data[1024:2048], srv.parts[2])
	assert.Equal(t, data[2048:], srv.parts[3])
}

func TestDeposit_DecodedDepositBoundsConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		io.Copy(io.Discard, r.Body)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("ETag", "etag-"+r.URL.Query().Get("partNumber"))
	}))
	defer ts.Close()

	sent := newDeposit(ts, 12, 1)
	raw, err := json.Marshal(sent)
	require.NoError(t, err)

	var d Deposit
	require.NoError(t, json.Unmarshal(raw, &d))

	parts, err := d.Upload(context.Background(), bytes.Repeat([]byte("x"), 12))
	require.NoError(t, err)
	assert.Len(t, parts, 12)
	assert.Equal(t, "etag-12", parts[11].ETag)
	assert.LessOrEqual(t, peak.Load(), int32(DefaultConcurrency))
	assert.Positive(t, peak.Load())
}

func TestDeposit_UploadChunkCountMismatch(t *testing.T) {
	ts := httptest.NewServer(&partServer{parts: map[int][]byte{}})
	defer ts.Close()

	_, err := newDeposit(ts, 2, 1024).Upload(context.Background(), make([]byte, 2500))
	assert.True(t, errors.Is(err, common.ErrorValidation), "got %v", err)
}

func TestDeposit_UploadFailureReturnsNoManifest(t *testing.T) {
	ts := httptest.NewServer(&partServer{parts: map[int][]byte{}, failOn: 2})
	defer ts.Close()

	parts, err := newDeposit(ts, 3, 1024).Upload(context.Background(), make([]byte, 2500))
	assert.Nil(t, parts)
	assert.True(t, errors.Is(err, common.ErrTransferFailed), "got %v", err)
	assert.Contains(t, err.Error(), "part 2")
}

func TestDeposit_WriteCallsCompleter(t *testing.T) {
	ts := httptest.NewServer(&partServer{parts: map[int][]byte{}})
	defer ts.Close()

	d := newDeposit(ts, 1, 1024)
	var gotID uuid.UUID
	var gotParts []Part
	err := d.Write(context.Background(), []byte("small"), CompleterFunc(func(_ context.Context, id uuid.UUID, parts []Part) error {
		gotID, gotParts = id, parts
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, d.EntryID, gotID)
	assert.Equal(t, []Part{{1, "etag-1"}}, gotParts)
}

func TestDeposit_WriteSkipsCompleterOnFailure(t *testing.T) {
	ts := httptest.NewServer(&partServer{parts: map[int][]byte{}, failOn: 1})
	defer ts.Close()

	called := false
	err := newDeposit(ts, 1, 1024).Write(context.Background(), []byte("x"), CompleterFunc(func(context.Context, uuid.UUID, []Part) error {
		called = true
		return nil
	}))
	assert.Error(t, err)
	assert.False(t, called)
}

func TestRetrieval_Fetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/expired" {
			http.Error(w, "Request has expired", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("contents"))
	}))
	defer ts.Close()

	got, err := (&Retrieval{URL: ts.URL + "/obj", client: ts.Client()}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "contents", string(got))

	_, err = (&Retrieval{URL: ts.URL + "/expired"}).Fetch(context.Background())
	assert.True(t, errors.Is(err, common.ErrTransferFailed), "got %v", err)
}
