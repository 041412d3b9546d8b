package stashes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/models"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/dmitrijs2005/gridstore/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root store.Credentials = "node-root"

func openAll(t *testing.T) *Stashes {
	t.Helper()
	ds := store.NewDocumentStore(memory.NewBackend(), root, nil)
	s, err := Open(context.Background(), ds)
	require.NoError(t, err)
	assert.Len(t, ds.Registered(), 5)
	return s
}

func TestSyncStash_GetLatestEmpty(t *testing.T) {
	s := openAll(t)

	got, err := s.Sync.GetLatest(context.Background(), root)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSyncStash_GetLatestAfterSet(t *testing.T) {
	ctx := context.Background()
	s := openAll(t)

	saved, err := s.Sync.Set(ctx, root, &models.SyncState{NodeID: uuid.New(), Objects: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)

	got, err := s.Sync.GetLatest(ctx, root)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)
	assert.Equal(t, saved.Objects, got.Objects)
}

func TestSyncStash_GetLatestFollowsCreatedAtOrder(t *testing.T) {
	ctx := context.Background()
	s := openAll(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	later, err := s.Sync.Set(ctx, root, &models.SyncState{Base: store.Base{CreatedAt: base.Add(time.Hour)}})
	require.NoError(t, err)
	earlier, err := s.Sync.Set(ctx, root, &models.SyncState{Base: store.Base{CreatedAt: base}})
	require.NoError(t, err)

	all, err := s.Sync.GetAll(ctx, root, store.WithOrderBy(store.CreatedAtKey))
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := s.Sync.GetLatest(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, all[0].ID, got.ID)
	assert.Equal(t, earlier.ID, got.ID)
	assert.NotEqual(t, later.ID, got.ID)
}

func TestUserStash_GetByEmail(t *testing.T) {
	ctx := context.Background()
	s := openAll(t)

	_, err := s.Users.Set(ctx, root, &models.User{Email: "owner@node.io", Name: "Owner", Role: models.RoleAdmin})
	require.NoError(t, err)

	u, err := s.Users.GetByEmail(ctx, root, "owner@node.io")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)

	_, err = s.Users.Set(ctx, root, &models.User{Email: "owner@node.io"})
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)

	all, err := s.Users.GetAll(ctx, root)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.Users.GetByEmail(ctx, root, "nobody@node.io")
	assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)
}

func TestUserStash_Authenticate(t *testing.T) {
	ctx := context.Background()
	s := openAll(t)

	u := &models.User{Email: "owner@node.io", Role: models.RoleAdmin}
	require.NoError(t, u.SetPassword("changethis"))
	_, err := s.Users.Set(ctx, root, u)
	require.NoError(t, err)

	got, err := s.Users.Authenticate(ctx, root, "owner@node.io", "changethis")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Users.Authenticate(ctx, root, "owner@node.io", "wrong")
	assert.True(t, errors.Is(err, common.ErrorUnauthorized), "got %v", err)

	_, err = s.Users.Authenticate(ctx, root, "nobody@node.io", "changethis")
	assert.True(t, errors.Is(err, common.ErrorUnauthorized), "got %v", err)
}

func TestSettingsStash_Get(t *testing.T) {
	ctx := context.Background()
	s := openAll(t)

	_, err := s.Settings.Get(ctx, root)
	assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)

	_, err = s.Settings.Set(ctx, root, &models.NodeSettings{NodeID: uuid.New(), Name: "canada", SignupEnabled: true})
	require.NoError(t, err)

	got, err := s.Settings.Get(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, "canada", got.Name)
	assert.True(t, got.SignupEnabled)
}

func TestDataSubjectMemberStash(t *testing.T) {
	ctx := context.Background()
	s := openAll(t)

	for _, r := range []models.DataSubjectMemberRelationship{
		{Parent: "hospital", Child: "alice"},
		{Parent: "hospital", Child: "bob"},
		{Parent: "clinic", Child: "alice"},
	} {
		r := r
		_, err := s.DataSubjectMember.Set(ctx, root, &r)
		require.NoError(t, err)
	}

	_, err := s.DataSubjectMember.Set(ctx, root, &models.DataSubjectMemberRelationship{Parent: "hospital", Child: "bob"})
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)

	members, err := s.DataSubjectMember.GetByParent(ctx, root, "hospital")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	parents, err := s.DataSubjectMember.GetByChild(ctx, root, "alice")
	require.NoError(t, err)
	require.Len(t, parents, 2)
	assert.Equal(t, "hospital", parents[0].Parent)
	assert.Equal(t, "clinic", parents[1].Parent)
}

func TestBlobStorageStash_GetByState(t *testing.T) {
	ctx := context.Background()
	s := openAll(t)

	e, err := s.Blobs.Set(ctx, "alice", &models.BlobStorageEntry{
		Location:    models.SecureFilePathLocation{ID: "upload-1", Path: "a"},
		FileSize:    10,
		UploadState: models.UploadAllocated,
	})
	require.NoError(t, err)

	_, err = s.Blobs.Set(ctx, "alice", &models.BlobStorageEntry{
		Location:    models.SecureFilePathLocation{ID: "upload-2", Path: "a"},
		UploadState: models.UploadAllocated,
	})
	assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)

	allocated, err := s.Blobs.GetByState(ctx, "alice", models.UploadAllocated)
	require.NoError(t, err)
	require.Len(t, allocated, 1)
	assert.Equal(t, e.ID, allocated[0].ID)

	complete, err := s.Blobs.GetByState(ctx, "alice", models.UploadComplete)
	require.NoError(t, err)
	assert.Empty(t, complete)
}
