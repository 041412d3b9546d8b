package blobstorage

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/models"
	"github.com/dmitrijs2005/gridstore/internal/stashes"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/dmitrijs2005/gridstore/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	root  store.Credentials = "node-root"
	alice store.Credentials = "alice"
)

func newService(t *testing.T, b *MockBackend, opts Options) (*Service, *stashes.BlobStorageStash) {
	t.Helper()
	ds := store.NewDocumentStore(memory.NewBackend(), root, nil)
	stash, err := stashes.NewBlobStorageStash(context.Background(), ds)
	require.NoError(t, err)
	b.On("Close").Return(nil)
	return NewService(NewClient(dialMock(b), opts, nil), stash, nil), stash
}

func TestService_FullUpload(t *testing.T) {
	ctx := context.Background()
	srv := &partServer{parts: map[int][]byte{}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	b := new(MockBackend)
	svc, _ := newService(t, b, Options{ChunkSize: 1024, HTTPClient: ts.Client()})
	id := uuid.New()

	b.On("CreateMultipartUpload", mock.Anything, id.String()).Return("upload-1", nil).Once()
	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{ID: id, FileSize: 2500, Type: "bytes"})
	require.NoError(t, err)
	assert.Equal(t, models.UploadAllocated, entry.UploadState)
	assert.Equal(t, "upload-1", entry.Location.ID)

	b.On("PresignUploadPart", mock.Anything, id.String(), "upload-1", mock.AnythingOfType("int32"), 15*time.Minute).
		Return(func(_ context.Context, _, _ string, n int32, _ time.Duration) string {
			return fmt.Sprintf("%s/%s?partNumber=%d", ts.URL, id, n)
		}, nil)
	deposit, err := svc.Write(ctx, alice, id)
	require.NoError(t, err)
	require.Len(t, deposit.URLs, 3)

	parts, err := deposit.Upload(ctx, []byte(strings.Repeat("x", 2500)))
	require.NoError(t, err)

	// two of three tags are not enough
	err = svc.MarkWriteComplete(ctx, alice, id, parts[:2])
	assert.True(t, errors.Is(err, common.ErrUploadIncomplete), "got %v", err)

	_, err = svc.Read(ctx, alice, id)
	assert.True(t, errors.Is(err, common.ErrUploadIncomplete), "got %v", err)

	b.On("CompleteMultipartUpload", mock.Anything, id.String(), "upload-1", parts).Return(nil).Once()
	require.NoError(t, svc.MarkWriteComplete(ctx, alice, id, parts))

	b.On("PresignGetObject", mock.Anything, id.String(), 30*time.Minute).Return(ts.URL+"/get", nil).Once()
	r, err := svc.Read(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, ts.URL+"/get", r.URL)

	_, err = svc.Write(ctx, alice, id)
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)
	b.AssertExpectations(t)
}

func TestService_DepositWriteWithCompleter(t *testing.T) {
	ctx := context.Background()
	ts := httptest.NewServer(&partServer{parts: map[int][]byte{}})
	defer ts.Close()

	b := new(MockBackend)
	svc, stash := newService(t, b, Options{ChunkSize: 1024, HTTPClient: ts.Client()})

	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("upload-1", nil).Once()
	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 5})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, entry.ID)

	b.On("PresignUploadPart", mock.Anything, mock.Anything, mock.Anything, int32(1), mock.Anything).
		Return(ts.URL+"/obj?partNumber=1", nil).Once()
	deposit, err := svc.Write(ctx, alice, entry.ID)
	require.NoError(t, err)

	b.On("CompleteMultipartUpload", mock.Anything, mock.Anything, "upload-1", []Part{{1, "etag-1"}}).Return(nil).Once()
	require.NoError(t, deposit.Write(ctx, []byte("hello"), svc.Completer(alice)))

	stored, err := stash.GetByUID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadComplete, stored.UploadState)
}

func TestService_RejectedManifestStaysInProgress(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, stash := newService(t, b, Options{ChunkSize: 1024})

	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("upload-1", nil).Once()
	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 10})
	require.NoError(t, err)
	b.On("PresignUploadPart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("u", nil).Once()
	_, err = svc.Write(ctx, alice, entry.ID)
	require.NoError(t, err)

	b.On("CompleteMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: bad etag", ErrInvalidPart)).Once()
	err = svc.MarkWriteComplete(ctx, alice, entry.ID, []Part{{1, "wrong"}})
	assert.True(t, errors.Is(err, common.ErrUploadIncomplete), "got %v", err)

	stored, err := stash.GetByUID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadInProgress, stored.UploadState)
}

func TestService_MarkWriteCompleteBeforeWrite(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, _ := newService(t, b, Options{})

	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("upload-1", nil).Once()
	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 10})
	require.NoError(t, err)

	err = svc.MarkWriteComplete(ctx, alice, entry.ID, []Part{{1, "a"}})
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)
}

func TestService_Abandon(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, stash := newService(t, b, Options{})

	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("upload-1", nil).Once()
	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 10})
	require.NoError(t, err)

	b.On("AbortMultipartUpload", mock.Anything, entry.Location.Path, "upload-1").Return(nil).Once()
	require.NoError(t, svc.Abandon(ctx, alice, entry.ID))
	// second call is a no-op
	require.NoError(t, svc.Abandon(ctx, alice, entry.ID))

	stored, err := stash.GetByUID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadFailed, stored.UploadState)

	_, err = svc.Write(ctx, alice, entry.ID)
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)
	b.AssertExpectations(t)
}

// inProgress allocates an entry for alice and issues its part URLs.
func inProgress(t *testing.T, svc *Service, b *MockBackend) *models.BlobStorageEntry {
	t.Helper()
	ctx := context.Background()

	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("upload-1", nil).Once()
	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 10})
	require.NoError(t, err)
	b.On("PresignUploadPart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("u", nil).Once()
	_, err = svc.Write(ctx, alice, entry.ID)
	require.NoError(t, err)
	return entry
}

func TestService_AbandonDoesNotOverwriteCompletion(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, stash := newService(t, b, Options{ChunkSize: 1024})
	entry := inProgress(t, svc, b)

	// the upload completes elsewhere while the abort is on the wire
	b.On("AbortMultipartUpload", mock.Anything, entry.Location.Path, "upload-1").
		Run(func(mock.Arguments) {
			done, err := stash.GetByUID(ctx, entry.ID)
			require.NoError(t, err)
			done.UploadState = models.UploadComplete
			_, err = stash.Update(ctx, root, done)
			require.NoError(t, err)
		}).
		Return(nil).Once()

	err := svc.Abandon(ctx, alice, entry.ID)
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)

	stored, err := stash.GetByUID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadComplete, stored.UploadState)
}

func TestService_AbandonRacingCompletion(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		b := new(MockBackend)
		svc, stash := newService(t, b, Options{ChunkSize: 1024})
		entry := inProgress(t, svc, b)

		b.On("CompleteMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { time.Sleep(time.Millisecond) }).Return(nil).Maybe()
		b.On("AbortMultipartUpload", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { time.Sleep(time.Millisecond) }).Return(nil).Maybe()

		var wg sync.WaitGroup
		var completeErr, abandonErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			completeErr = svc.MarkWriteComplete(ctx, alice, entry.ID, []Part{{1, "a"}})
		}()
		go func() {
			defer wg.Done()
			abandonErr = svc.Abandon(ctx, alice, entry.ID)
		}()
		wg.Wait()

		stored, err := stash.GetByUID(ctx, entry.ID)
		require.NoError(t, err)
		switch stored.UploadState {
		case models.UploadComplete:
			require.NoError(t, completeErr)
			assert.True(t, errors.Is(abandonErr, common.ErrConflict), "got %v", abandonErr)
		case models.UploadFailed:
			require.NoError(t, abandonErr)
			assert.True(t, errors.Is(completeErr, common.ErrConflict), "got %v", completeErr)
		default:
			t.Fatalf("entry left %s", stored.UploadState)
		}
	}
}

func TestService_LostSessionMarksFailed(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, stash := newService(t, b, Options{ChunkSize: 1024})
	entry := inProgress(t, svc, b)

	b.On("CompleteMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: upload-1", ErrNoSuchUpload)).Once()
	err := svc.MarkWriteComplete(ctx, alice, entry.ID, []Part{{1, "a"}})
	assert.True(t, errors.Is(err, common.ErrTransferFailed), "got %v", err)

	stored, err := stash.GetByUID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadFailed, stored.UploadState)

	_, err = svc.Write(ctx, alice, entry.ID)
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)
}

func TestService_UnavailableBackendKeepsInProgress(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, stash := newService(t, b, Options{ChunkSize: 1024})
	entry := inProgress(t, svc, b)

	b.On("CompleteMultipartUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("connection reset")).Once()
	err := svc.MarkWriteComplete(ctx, alice, entry.ID, []Part{{1, "a"}})
	assert.True(t, errors.Is(err, common.ErrBackendUnavailable), "got %v", err)

	stored, err := stash.GetByUID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadInProgress, stored.UploadState)
}

func TestService_AllocateAbortsWhenRecordFails(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, _ := newService(t, b, Options{})
	id := uuid.New()

	b.On("CreateMultipartUpload", mock.Anything, id.String()).Return("upload-1", nil).Once()
	_, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{ID: id, FileSize: 1})
	require.NoError(t, err)

	// same id again: the session opens but the record conflicts
	b.On("CreateMultipartUpload", mock.Anything, id.String()).Return("upload-2", nil).Once()
	b.On("AbortMultipartUpload", mock.Anything, id.String(), "upload-2").Return(nil).Once()
	_, err = svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{ID: id, FileSize: 1})
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)
	b.AssertExpectations(t)
}

func TestService_OtherPrincipalCannotSeeEntry(t *testing.T) {
	ctx := context.Background()
	b := new(MockBackend)
	svc, _ := newService(t, b, Options{})

	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("upload-1", nil).Once()
	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 1})
	require.NoError(t, err)

	_, err = svc.Write(ctx, "mallory", entry.ID)
	assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)

	b.On("PresignUploadPart", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("u", nil).Once()
	_, err = svc.Write(ctx, root, entry.ID)
	require.NoError(t, err)
}

func TestService_AllocateValidation(t *testing.T) {
	b := new(MockBackend)
	svc, _ := newService(t, b, Options{})

	_, err := svc.Allocate(context.Background(), alice, models.CreateBlobStorageEntry{FileSize: -1})
	assert.True(t, errors.Is(err, common.ErrorValidation), "got %v", err)
}

func TestService_CloseError(t *testing.T) {
	ctx := context.Background()
	ds := store.NewDocumentStore(memory.NewBackend(), root, nil)
	stash, err := stashes.NewBlobStorageStash(ctx, ds)
	require.NoError(t, err)

	b := new(MockBackend)
	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("upload-1", nil).Once()
	b.On("Close").Return(errors.New("socket closed")).Once()
	svc := NewService(NewClient(dialMock(b), Options{}, nil), stash, nil)

	entry, err := svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 1})
	require.NoError(t, err)
	_, err = stash.GetByUID(ctx, entry.ID)
	require.NoError(t, err)

	b.On("CreateMultipartUpload", mock.Anything, mock.Anything).Return("", errors.New("throttled")).Once()
	b.On("Close").Return(errors.New("socket closed")).Once()
	_, err = svc.Allocate(ctx, alice, models.CreateBlobStorageEntry{FileSize: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrBackendUnavailable), "got %v", err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Contains(t, err.Error(), "socket closed")
}
