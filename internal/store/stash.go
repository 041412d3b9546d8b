package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/google/uuid"
)

// Stash is the typed CRUD façade over one partition. T is a pointer type
// implementing Record, e.g. *models.User.
type Stash[T Record] struct {
	settings  PartitionSettings
	partition Partition
	root      Credentials
	newRecord func() T
}

// NewStash opens (or reuses) the partition declared by settings. newRecord
// must return a fresh zero value used to decode stored documents.
func NewStash[T Record](ctx context.Context, ds *DocumentStore, settings PartitionSettings, newRecord func() T) (*Stash[T], error) {
	p, err := ds.GetOrCreatePartition(ctx, settings)
	if err != nil {
		return nil, err
	}
	return &Stash[T]{
		settings:  settings,
		partition: p,
		root:      ds.Root(),
		newRecord: newRecord,
	}, nil
}

func (s *Stash[T]) Settings() PartitionSettings {
	return s.settings
}

// QueryOption adjusts GetAll.
type QueryOption func(*queryOptions)

type queryOptions struct {
	orderBy *PartitionKey
	limit   int
}

// WithOrderBy sorts ascending by an indexed key.
func WithOrderBy(key PartitionKey) QueryOption {
	return func(o *queryOptions) { o.orderBy = &key }
}

// WithLimit truncates the result to at most n records.
func WithLimit(n int) QueryOption {
	return func(o *queryOptions) { o.limit = n }
}

// Set stores a new record owned by creds. A zero id is replaced with a new
// UUID and a zero creation time with the current time.
func (s *Stash[T]) Set(ctx context.Context, creds Credentials, rec T) (T, error) {
	var zero T

	if rec.GetID() == uuid.Nil {
		rec.SetID(uuid.New())
	}
	if rec.GetCreatedAt().IsZero() {
		rec.SetCreatedAt(time.Now())
	}
	rec.SetCreatedAt(rec.GetCreatedAt().UTC())

	doc, err := s.document(creds, rec)
	if err != nil {
		return zero, s.wrap("set", err)
	}
	if err := s.partition.Insert(ctx, doc); err != nil {
		return zero, s.wrap("set", err)
	}
	return rec, nil
}

func (s *Stash[T]) GetByUID(ctx context.Context, id uuid.UUID) (T, error) {
	var zero T

	doc, err := s.partition.Get(ctx, id)
	if err != nil {
		return zero, s.wrap("get", err)
	}
	return s.decode(doc)
}

// GetAll lists the records visible to creds: all of them for the root
// principal, otherwise only the ones creds wrote.
func (s *Stash[T]) GetAll(ctx context.Context, creds Credentials, opts ...QueryOption) ([]T, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	q := Query{Limit: o.limit}
	if creds != s.root {
		q.Owner = creds
	}
	if o.orderBy != nil {
		if !s.settings.indexed(*o.orderBy) {
			return nil, s.wrap("get all", fmt.Errorf("%w: cannot order by undeclared key %q", common.ErrorValidation, o.orderBy.Key))
		}
		q.OrderBy = o.orderBy.Key
	}

	docs, err := s.partition.All(ctx, q)
	if err != nil {
		return nil, s.wrap("get all", err)
	}
	return s.decodeAll(docs)
}

// Find returns the records visible to creds whose key equals value.
func (s *Stash[T]) Find(ctx context.Context, creds Credentials, key PartitionKey, value any) ([]T, error) {
	if !s.settings.indexed(key) {
		return nil, s.wrap("find", fmt.Errorf("%w: key %q is not searchable", common.ErrorValidation, key.Key))
	}
	encoded, err := key.Encode(value)
	if err != nil {
		return nil, s.wrap("find", err)
	}

	docs, err := s.partition.Find(ctx, key.Key, encoded)
	if err != nil {
		return nil, s.wrap("find", err)
	}
	if creds != s.root {
		docs = Query{Owner: creds}.Apply(docs)
	}
	return s.decodeAll(docs)
}

// FindOne is Find returning the first match or ErrorNotFound.
func (s *Stash[T]) FindOne(ctx context.Context, creds Credentials, key PartitionKey, value any) (T, error) {
	var zero T

	found, err := s.Find(ctx, creds, key, value)
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, s.wrap("find", fmt.Errorf("%w: no record with %s=%v", common.ErrorNotFound, key.Key, value))
	}
	return found[0], nil
}

// Update replaces the record with the same id. The prior record stays intact
// when the replacement would violate a unique key.
func (s *Stash[T]) Update(ctx context.Context, creds Credentials, rec T) (T, error) {
	var zero T

	existing, err := s.partition.Get(ctx, rec.GetID())
	if err != nil {
		return zero, s.wrap("update", err)
	}
	if creds != s.root && creds != existing.Owner {
		return zero, s.wrap("update", fmt.Errorf("%w: record %s belongs to another principal", common.ErrorUnauthorized, rec.GetID()))
	}

	if rec.GetCreatedAt().IsZero() {
		rec.SetCreatedAt(existing.CreatedAt)
	}
	rec.SetCreatedAt(rec.GetCreatedAt().UTC())

	doc, err := s.document(existing.Owner, rec)
	if err != nil {
		return zero, s.wrap("update", err)
	}
	if err := s.partition.Replace(ctx, doc); err != nil {
		return zero, s.wrap("update", err)
	}
	return rec, nil
}

func (s *Stash[T]) DeleteByUID(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.partition.Delete(ctx, id)
	if err != nil {
		return false, s.wrap("delete", err)
	}
	return ok, nil
}

func (s *Stash[T]) document(owner Credentials, rec T) (*Document, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %v", common.ErrorValidation, err)
	}

	keys := make(map[string]string)
	for _, k := range s.settings.IndexedKeys() {
		v, ok := rec.PartitionValue(k.Key)
		if !ok {
			continue
		}
		encoded, err := k.Encode(v)
		if err != nil {
			return nil, err
		}
		// Postgres TEXT and JSONB cannot hold NUL
		if strings.ContainsRune(encoded, 0) {
			return nil, fmt.Errorf("%w: key %q holds a NUL byte", common.ErrorValidation, k.Key)
		}
		keys[k.Key] = encoded
	}
	for _, k := range s.settings.UniqueKeys {
		if _, ok := keys[k.Key]; !ok {
			return nil, fmt.Errorf("%w: record has no value for unique key %q", common.ErrorValidation, k.Key)
		}
	}

	return &Document{
		ID:        rec.GetID(),
		Owner:     owner,
		CreatedAt: rec.GetCreatedAt(),
		Data:      data,
		Keys:      keys,
	}, nil
}

func (s *Stash[T]) decode(doc *Document) (T, error) {
	rec := s.newRecord()
	if err := json.Unmarshal(doc.Data, rec); err != nil {
		var zero T
		return zero, s.wrap("decode", fmt.Errorf("%w: record %s: %v", common.ErrorValidation, doc.ID, err))
	}
	return rec, nil
}

func (s *Stash[T]) decodeAll(docs []*Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		rec, err := s.decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var knownErrors = []error{
	common.ErrorNotFound,
	common.ErrConflict,
	common.ErrorValidation,
	common.ErrorUnauthorized,
	common.ErrBackendUnavailable,
}

// wrap prefixes err with the partition and operation. Errors that carry no
// known sentinel come from the backend itself and are reported as
// ErrBackendUnavailable.
func (s *Stash[T]) wrap(op string, err error) error {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return fmt.Errorf("%s %s: %w", s.settings.Name, op, err)
		}
	}
	return fmt.Errorf("%s %s: %w: %v", s.settings.Name, op, common.ErrBackendUnavailable, err)
}
