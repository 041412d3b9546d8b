// Package stashes provides the record-specific stashes the node services use.
package stashes

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/models"
	"github.com/dmitrijs2005/gridstore/internal/store"
)

type SyncStash struct {
	*store.Stash[*models.SyncState]
}

func NewSyncStash(ctx context.Context, ds *store.DocumentStore) (*SyncStash, error) {
	s, err := store.NewStash(ctx, ds, models.SyncStateSettings, models.NewSyncState)
	if err != nil {
		return nil, err
	}
	return &SyncStash{Stash: s}, nil
}

// GetLatest returns the head of the created_at ordering visible to creds, or
// nil when no state was stored yet.
func (s *SyncStash) GetLatest(ctx context.Context, creds store.Credentials) (*models.SyncState, error) {
	states, err := s.GetAll(ctx, creds,
		store.WithOrderBy(store.CreatedAtKey),
		store.WithLimit(1),
	)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return states[0], nil
}

type UserStash struct {
	*store.Stash[*models.User]
}

func NewUserStash(ctx context.Context, ds *store.DocumentStore) (*UserStash, error) {
	s, err := store.NewStash(ctx, ds, models.UserSettings, models.NewUser)
	if err != nil {
		return nil, err
	}
	return &UserStash{Stash: s}, nil
}

func (s *UserStash) GetByEmail(ctx context.Context, creds store.Credentials, email string) (*models.User, error) {
	return s.FindOne(ctx, creds, models.UserEmailKey, email)
}

// Authenticate returns the user with email when password matches. An unknown
// email and a wrong password are indistinguishable to the caller.
func (s *UserStash) Authenticate(ctx context.Context, creds store.Credentials, email, password string) (*models.User, error) {
	u, err := s.GetByEmail(ctx, creds, email)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: invalid email or password", common.ErrorUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !u.CheckPassword(password) {
		return nil, fmt.Errorf("%w: invalid email or password", common.ErrorUnauthorized)
	}
	return u, nil
}

type SettingsStash struct {
	*store.Stash[*models.NodeSettings]
}

func NewSettingsStash(ctx context.Context, ds *store.DocumentStore) (*SettingsStash, error) {
	s, err := store.NewStash(ctx, ds, models.NodeSettingsSettings, models.NewNodeSettings)
	if err != nil {
		return nil, err
	}
	return &SettingsStash{Stash: s}, nil
}

// Get returns the node's settings record.
func (s *SettingsStash) Get(ctx context.Context, creds store.Credentials) (*models.NodeSettings, error) {
	all, err := s.GetAll(ctx, creds, store.WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no settings found", common.ErrorNotFound)
	}
	return all[0], nil
}

type DataSubjectMemberStash struct {
	*store.Stash[*models.DataSubjectMemberRelationship]
}

func NewDataSubjectMemberStash(ctx context.Context, ds *store.DocumentStore) (*DataSubjectMemberStash, error) {
	s, err := store.NewStash(ctx, ds, models.DataSubjectMemberSettings, models.NewDataSubjectMemberRelationship)
	if err != nil {
		return nil, err
	}
	return &DataSubjectMemberStash{Stash: s}, nil
}

func (s *DataSubjectMemberStash) GetByParent(ctx context.Context, creds store.Credentials, parent string) ([]*models.DataSubjectMemberRelationship, error) {
	return s.Find(ctx, creds, models.ParentKey, parent)
}

func (s *DataSubjectMemberStash) GetByChild(ctx context.Context, creds store.Credentials, child string) ([]*models.DataSubjectMemberRelationship, error) {
	return s.Find(ctx, creds, models.ChildKey, child)
}

type BlobStorageStash struct {
	*store.Stash[*models.BlobStorageEntry]
}

func NewBlobStorageStash(ctx context.Context, ds *store.DocumentStore) (*BlobStorageStash, error) {
	s, err := store.NewStash(ctx, ds, models.BlobStorageEntrySettings, models.NewBlobStorageEntry)
	if err != nil {
		return nil, err
	}
	return &BlobStorageStash{Stash: s}, nil
}

// GetByState lists the entries visible to creds in the given upload state.
func (s *BlobStorageStash) GetByState(ctx context.Context, creds store.Credentials, state models.UploadState) ([]*models.BlobStorageEntry, error) {
	return s.Find(ctx, creds, models.UploadStateKey, string(state))
}

// Stashes bundles every stash the node opens at startup.
type Stashes struct {
	Sync              *SyncStash
	Users             *UserStash
	Settings          *SettingsStash
	DataSubjectMember *DataSubjectMemberStash
	Blobs             *BlobStorageStash
}

// Open registers every record type and opens its stash.
func Open(ctx context.Context, ds *store.DocumentStore) (*Stashes, error) {
	var (
		s   Stashes
		err error
	)
	if s.Sync, err = NewSyncStash(ctx, ds); err != nil {
		return nil, err
	}
	if s.Users, err = NewUserStash(ctx, ds); err != nil {
		return nil, err
	}
	if s.Settings, err = NewSettingsStash(ctx, ds); err != nil {
		return nil, err
	}
	if s.DataSubjectMember, err = NewDataSubjectMemberStash(ctx, ds); err != nil {
		return nil, err
	}
	if s.Blobs, err = NewBlobStorageStash(ctx, ds); err != nil {
		return nil, err
	}
	return &s, nil
}
