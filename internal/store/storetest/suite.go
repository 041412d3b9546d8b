// Package storetest holds the behaviour every store.Backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var Settings = store.PartitionSettings{
	Name:           "Conformance",
	ObjectType:     "storetest.doc",
	Version:        1,
	SearchableKeys: []store.PartitionKey{{Key: "tag", Type: store.KeyTypeString}},
	UniqueKeys:     []store.PartitionKey{{Key: "email", Type: store.KeyTypeString}},
}

// Doc builds a document with the given owner and email; extra key/value
// pairs are added to Keys.
func Doc(owner store.Credentials, email string, kv ...string) *store.Document {
	keys := map[string]string{"email": email}
	for i := 0; i+1 < len(kv); i += 2 {
		keys[kv[i]] = kv[i+1]
	}
	return &store.Document{
		ID:        uuid.New(),
		Owner:     owner,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Data:      []byte(fmt.Sprintf(`{"email":%q}`, email)),
		Keys:      keys,
	}
}

// Run exercises a backend. newBackend is called once per subtest.
func Run(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	open := func(t *testing.T) store.Partition {
		t.Helper()
		b := newBackend(t)
		t.Cleanup(func() { _ = b.Close() })
		p, err := b.Partition(context.Background(), Settings)
		require.NoError(t, err)
		return p
	}

	t.Run("InsertGet", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)
		d := Doc("alice", "a@x.io")

		require.NoError(t, p.Insert(ctx, d))
		got, err := p.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
		assert.Equal(t, d.Owner, got.Owner)
		assert.JSONEq(t, string(d.Data), string(got.Data))
		assert.Equal(t, d.Keys, got.Keys)
		assert.True(t, d.CreatedAt.Equal(got.CreatedAt))

		_, err = p.Get(ctx, uuid.New())
		assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)
		d := Doc("alice", "a@x.io")
		require.NoError(t, p.Insert(ctx, d))

		again := Doc("alice", "other@x.io")
		again.ID = d.ID
		err := p.Insert(ctx, again)
		assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)
	})

	t.Run("UniqueConflict", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)
		require.NoError(t, p.Insert(ctx, Doc("alice", "dup@x.io")))

		err := p.Insert(ctx, Doc("bob", "dup@x.io"))
		assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)

		all, err := p.All(ctx, store.Query{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("ConcurrentUniqueInsert", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)

		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if p.Insert(ctx, Doc("alice", "race@x.io")) == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
	})

	t.Run("ReplaceKeepsOwnerAndMovesUniqueValue", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)
		d := Doc("alice", "old@x.io")
		require.NoError(t, p.Insert(ctx, d))

		repl := Doc("someone-else", "new@x.io")
		repl.ID = d.ID
		require.NoError(t, p.Replace(ctx, repl))

		got, err := p.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, store.Credentials("alice"), got.Owner)
		assert.Equal(t, "new@x.io", got.Keys["email"])

		require.NoError(t, p.Insert(ctx, Doc("bob", "old@x.io")))
	})

	t.Run("ReplaceConflictLeavesPrior", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)
		a := Doc("alice", "a@x.io")
		b := Doc("alice", "b@x.io")
		require.NoError(t, p.Insert(ctx, a))
		require.NoError(t, p.Insert(ctx, b))

		repl := Doc("alice", "b@x.io")
		repl.ID = a.ID
		err := p.Replace(ctx, repl)
		assert.True(t, errors.Is(err, common.ErrConflict), "got %v", err)

		got, err := p.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "a@x.io", got.Keys["email"])
	})

	t.Run("ReplaceMissing", func(t *testing.T) {
		p := open(t)
		err := p.Replace(context.Background(), Doc("alice", "a@x.io"))
		assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)
	})

	t.Run("FindAndAll", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)
		d1 := Doc("alice", "1@x.io", "tag", "b")
		d2 := Doc("bob", "2@x.io", "tag", "a")
		d3 := Doc("alice", "3@x.io", "tag", "b")
		for _, d := range []*store.Document{d1, d2, d3} {
			require.NoError(t, p.Insert(ctx, d))
		}

		found, err := p.Find(ctx, "tag", "b")
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, d1.ID, found[0].ID)
		assert.Equal(t, d3.ID, found[1].ID)

		byEmail, err := p.Find(ctx, "email", "2@x.io")
		require.NoError(t, err)
		require.Len(t, byEmail, 1)
		assert.Equal(t, d2.ID, byEmail[0].ID)

		none, err := p.Find(ctx, "email", "ghost@x.io")
		require.NoError(t, err)
		assert.Empty(t, none)

		all, err := p.All(ctx, store.Query{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []uuid.UUID{d1.ID, d2.ID, d3.ID}, ids(all))

		sorted, err := p.All(ctx, store.Query{OrderBy: "tag", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{d2.ID, d1.ID}, ids(sorted))

		mine, err := p.All(ctx, store.Query{Owner: "alice"})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{d1.ID, d3.ID}, ids(mine))
	})

	t.Run("Delete", func(t *testing.T) {
		ctx := context.Background()
		p := open(t)
		d := Doc("alice", "a@x.io")
		require.NoError(t, p.Insert(ctx, d))

		ok, err := p.Delete(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = p.Delete(ctx, d.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = p.Get(ctx, d.ID)
		assert.True(t, errors.Is(err, common.ErrorNotFound), "got %v", err)

		require.NoError(t, p.Insert(ctx, Doc("bob", "a@x.io")))
	})

	t.Run("PartitionsAreIndependent", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		t.Cleanup(func() { _ = b.Close() })

		other := Settings
		other.Name = "Other"
		p1, err := b.Partition(ctx, Settings)
		require.NoError(t, err)
		p2, err := b.Partition(ctx, other)
		require.NoError(t, err)

		require.NoError(t, p1.Insert(ctx, Doc("alice", "same@x.io")))
		require.NoError(t, p2.Insert(ctx, Doc("alice", "same@x.io")))

		all, err := p2.All(ctx, store.Query{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func ids(docs []*store.Document) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
