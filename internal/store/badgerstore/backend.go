// Package badgerstore is an embedded store.Backend over BadgerDB.
//
// Key layout, with \x00 separating components:
//
//	d <partition> <id>              -> JSON document
//	o <partition> <seq>             -> id (insertion order)
//	u <partition> <key> <value>     -> id (unique index)
//	s <partition>                   -> badger sequence
package badgerstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/hashicorp/go-multierror"
)

const seqBandwidth = 64

type Backend struct {
	db *badger.DB

	mu         sync.Mutex
	partitions map[string]*Partition
}

// Open opens (or creates) a database under dir. An empty dir keeps
// everything in memory.
func Open(dir string) (*Backend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open error: %w", err)
	}
	return &Backend{db: db, partitions: make(map[string]*Partition)}, nil
}

func (b *Backend) Partition(_ context.Context, settings store.PartitionSettings) (store.Partition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.partitions[settings.Name]; ok {
		return p, nil
	}

	seq, err := b.db.GetSequence(key("s", settings.Name), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("sequence for %s: %w", settings.Name, err)
	}
	p := &Partition{
		db:     b.db,
		name:   settings.Name,
		unique: settings.UniqueKeyNames(),
		seq:    seq,
	}
	b.partitions[settings.Name] = p
	return p, nil
}

// Close releases partition sequences and closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result *multierror.Error
	for name, p := range b.partitions {
		if err := p.seq.Release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("release sequence %s: %w", name, err))
		}
	}
	b.partitions = map[string]*Partition{}
	if err := b.db.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func key(parts ...string) []byte {
	var n int
	for _, p := range parts {
		n += len(p) + 1
	}
	buf := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, 0)
		}
		buf = append(buf, p...)
	}
	return buf
}

func prefix(parts ...string) []byte {
	return append(key(parts...), 0)
}
