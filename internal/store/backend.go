package store

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Document is the backend-facing form of a record: the JSON body plus the
// owner and the encoded value of every indexed key.
type Document struct {
	ID        uuid.UUID
	Owner     Credentials
	CreatedAt time.Time
	Data      []byte
	Keys      map[string]string
}

// Clone returns a deep copy so backends never share mutable state with callers.
func (d *Document) Clone() *Document {
	c := *d
	c.Data = slices.Clone(d.Data)
	c.Keys = maps.Clone(d.Keys)
	return &c
}

// Query narrows Partition.All.
type Query struct {
	// Owner restricts results to records written by this principal. Empty means all.
	Owner Credentials
	// OrderBy is an indexed key name. Empty means insertion order.
	OrderBy string
	// Limit truncates the result when positive.
	Limit int
}

// Apply filters, orders and truncates docs, which must be in insertion order.
// Ordering is stable so ties keep insertion order.
func (q Query) Apply(docs []*Document) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if q.Owner == "" || d.Owner == q.Owner {
			out = append(out, d)
		}
	}
	if q.OrderBy != "" {
		slices.SortStableFunc(out, func(a, b *Document) int {
			av, bv := a.Keys[q.OrderBy], b.Keys[q.OrderBy]
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Partition is one independently indexed collection of documents.
//
// Implementations must make Insert and Replace atomic with respect to the
// unique-key check: no concurrent writer may observe two documents sharing a
// unique value. Errors wrap the sentinels in package common: ErrConflict for
// a duplicate id or a taken unique value, ErrorNotFound for a missing id.
type Partition interface {
	Insert(ctx context.Context, doc *Document) error
	// Replace swaps the stored document with the same id. Owner is kept from the stored copy.
	Replace(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id uuid.UUID) (*Document, error)
	// Find returns documents whose key has the encoded value, in insertion order.
	Find(ctx context.Context, key, value string) ([]*Document, error)
	All(ctx context.Context, q Query) ([]*Document, error)
	// Delete reports whether a document was removed.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// Backend owns the storage handle and opens partitions.
type Backend interface {
	Partition(ctx context.Context, settings PartitionSettings) (Partition, error)
	Close() error
}
