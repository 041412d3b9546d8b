package blobstorage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/logging"
	"github.com/dmitrijs2005/gridstore/internal/models"
	"github.com/dmitrijs2005/gridstore/internal/stashes"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Service drives the upload state machine of blob entries: it keeps the
// BlobStorageEntry records in step with the backend sessions.
type Service struct {
	client *Client
	stash  *stashes.BlobStorageStash
	logger logging.Logger

	// state transitions of an entry run under the stripe its id maps to
	locks [64]sync.Mutex
}

func NewService(client *Client, stash *stashes.BlobStorageStash, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{client: client, stash: stash, logger: logger}
}

// Allocate opens a backend session and records the entry as allocated. The
// session is aborted if the record cannot be stored.
func (s *Service) Allocate(ctx context.Context, creds store.Credentials, create models.CreateBlobStorageEntry) (*models.BlobStorageEntry, error) {
	if create.FileSize < 0 {
		return nil, fmt.Errorf("%w: negative file size %d", common.ErrorValidation, create.FileSize)
	}
	if create.ID == uuid.Nil {
		create.ID = uuid.New()
	}

	var saved *models.BlobStorageEntry
	err := s.withConnection(ctx, func(conn *Connection) error {
		loc, err := conn.Allocate(ctx, create)
		if err != nil {
			return err
		}

		saved, err = s.stash.Set(ctx, creds, &models.BlobStorageEntry{
			Base:        store.Base{ID: create.ID},
			Location:    loc,
			FileSize:    create.FileSize,
			Type:        create.Type,
			UploadState: models.UploadAllocated,
		})
		if err != nil {
			if abortErr := conn.Abort(ctx, loc); abortErr != nil {
				s.logger.Warn(ctx, "abort after failed allocation", "entry", create.ID, "error", abortErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "upload allocated", "entry", saved.ID, "path", saved.Location.Path, "size", saved.FileSize)
	return saved, nil
}

// Write returns the presigned part URLs for entry id and moves it to
// in_progress. Asking again while in progress issues fresh URLs.
func (s *Service) Write(ctx context.Context, creds store.Credentials, id uuid.UUID) (*Deposit, error) {
	defer s.lock(id)()

	entry, err := s.entry(ctx, creds, id)
	if err != nil {
		return nil, err
	}
	switch entry.UploadState {
	case models.UploadAllocated, models.UploadInProgress:
	default:
		return nil, fmt.Errorf("%w: entry %s is %s", common.ErrConflict, id, entry.UploadState)
	}

	var deposit *Deposit
	err = s.withConnection(ctx, func(conn *Connection) error {
		deposit, err = conn.Write(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	if entry.UploadState == models.UploadAllocated {
		entry.UploadState = models.UploadInProgress
		if _, err := s.stash.Update(ctx, creds, entry); err != nil {
			return nil, err
		}
	}
	return deposit, nil
}

// MarkWriteComplete completes the backend upload with the client's manifest
// and marks the entry complete. A rejected manifest or an unreachable backend
// leaves the entry in progress so the client may retry; a session the backend
// no longer knows marks it failed.
func (s *Service) MarkWriteComplete(ctx context.Context, creds store.Credentials, id uuid.UUID, parts []Part) error {
	defer s.lock(id)()

	entry, err := s.entry(ctx, creds, id)
	if err != nil {
		return err
	}
	if entry.UploadState != models.UploadInProgress {
		return fmt.Errorf("%w: entry %s is %s", common.ErrConflict, id, entry.UploadState)
	}

	err = s.withConnection(ctx, func(conn *Connection) error {
		return conn.CompleteMultipartUpload(ctx, entry, parts)
	})
	if errors.Is(err, ErrNoSuchUpload) {
		s.logger.Error(ctx, "upload session lost", "entry", id, "error", err)
		entry.UploadState = models.UploadFailed
		if _, uerr := s.stash.Update(ctx, creds, entry); uerr != nil {
			return multierror.Append(err, uerr)
		}
		return err
	}
	if err != nil {
		s.logger.Warn(ctx, "upload completion rejected", "entry", id, "error", err)
		return err
	}

	entry.UploadState = models.UploadComplete
	if _, err := s.stash.Update(ctx, creds, entry); err != nil {
		return err
	}
	s.logger.Info(ctx, "upload completed", "entry", id, "parts", len(parts))
	return nil
}

// Completer binds MarkWriteComplete to creds, for Deposit.Write.
func (s *Service) Completer(creds store.Credentials) Completer {
	return CompleterFunc(func(ctx context.Context, id uuid.UUID, parts []Part) error {
		return s.MarkWriteComplete(ctx, creds, id, parts)
	})
}

// Read returns a download URL for a completed entry.
func (s *Service) Read(ctx context.Context, creds store.Credentials, id uuid.UUID) (*Retrieval, error) {
	entry, err := s.entry(ctx, creds, id)
	if err != nil {
		return nil, err
	}
	if entry.UploadState != models.UploadComplete {
		return nil, fmt.Errorf("%w: entry %s is %s", common.ErrUploadIncomplete, id, entry.UploadState)
	}

	var r *Retrieval
	err = s.withConnection(ctx, func(conn *Connection) error {
		r, err = conn.Read(ctx, entry.Location)
		return err
	})
	return r, err
}

// Abandon aborts the backend session and marks the entry failed. A complete
// entry is never downgraded, even when it completed while the abort was in
// flight.
func (s *Service) Abandon(ctx context.Context, creds store.Credentials, id uuid.UUID) error {
	defer s.lock(id)()

	entry, err := s.entry(ctx, creds, id)
	if err != nil {
		return err
	}
	switch entry.UploadState {
	case models.UploadFailed:
		return nil
	case models.UploadComplete:
		return fmt.Errorf("%w: entry %s is already complete", common.ErrConflict, id)
	}

	err = s.withConnection(ctx, func(conn *Connection) error {
		return conn.Abort(ctx, entry.Location)
	})
	if err != nil {
		return err
	}

	// another node sharing the store may have completed it meanwhile
	entry, err = s.entry(ctx, creds, id)
	if err != nil {
		return err
	}
	switch entry.UploadState {
	case models.UploadFailed:
		return nil
	case models.UploadComplete:
		return fmt.Errorf("%w: entry %s completed while being abandoned", common.ErrConflict, id)
	}

	entry.UploadState = models.UploadFailed
	if _, err := s.stash.Update(ctx, creds, entry); err != nil {
		return err
	}
	s.logger.Info(ctx, "upload abandoned", "entry", id)
	return nil
}

func (s *Service) lock(id uuid.UUID) (unlock func()) {
	mu := &s.locks[int(id[len(id)-1])%len(s.locks)]
	mu.Lock()
	return mu.Unlock
}

// entry looks id up among the records creds may see.
func (s *Service) entry(ctx context.Context, creds store.Credentials, id uuid.UUID) (*models.BlobStorageEntry, error) {
	return s.stash.FindOne(ctx, creds, store.IDKey, id)
}

func (s *Service) withConnection(ctx context.Context, fn func(*Connection) error) error {
	conn, err := s.client.Connect(ctx)
	if err != nil {
		return err
	}

	// a failed close does not undo a completed operation, so it only
	// surfaces alongside an operation error
	err = fn(conn)
	if cerr := conn.Close(); cerr != nil {
		s.logger.Warn(ctx, "closing blob connection", "error", cerr)
		if err != nil {
			return multierror.Append(err, fmt.Errorf("%w: close: %v", common.ErrBackendUnavailable, cerr))
		}
	}
	return err
}
