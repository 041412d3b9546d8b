// Package memory is a process-local store.Backend. Each partition keeps its
// documents in insertion order behind a read/write lock, which also
// serialises the unique-key check with the write it guards.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
)

type Backend struct {
	mu         sync.Mutex
	partitions map[string]*Partition
}

func NewBackend() *Backend {
	return &Backend{partitions: make(map[string]*Partition)}
}

func (b *Backend) Partition(_ context.Context, settings store.PartitionSettings) (store.Partition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.partitions[settings.Name]; ok {
		return p, nil
	}
	p := newPartition(settings)
	b.partitions[settings.Name] = p
	return p, nil
}

func (b *Backend) Close() error {
	return nil
}

type Partition struct {
	name   string
	unique []string

	mu    sync.RWMutex
	order []uuid.UUID
	docs  map[uuid.UUID]*store.Document
	// key -> encoded value -> owning document
	index map[string]map[string]uuid.UUID
}

func newPartition(settings store.PartitionSettings) *Partition {
	p := &Partition{
		name:   settings.Name,
		unique: settings.UniqueKeyNames(),
		docs:   make(map[uuid.UUID]*store.Document),
		index:  make(map[string]map[string]uuid.UUID),
	}
	for _, k := range p.unique {
		p.index[k] = make(map[string]uuid.UUID)
	}
	return p
}

func (p *Partition) Insert(_ context.Context, doc *store.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.docs[doc.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", common.ErrConflict, doc.ID)
	}
	if err := p.checkUnique(doc); err != nil {
		return err
	}

	stored := doc.Clone()
	p.docs[doc.ID] = stored
	p.order = append(p.order, doc.ID)
	p.indexDoc(stored)
	return nil
}

func (p *Partition) Replace(_ context.Context, doc *store.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, ok := p.docs[doc.ID]
	if !ok {
		return fmt.Errorf("%w: record %s", common.ErrorNotFound, doc.ID)
	}
	if err := p.checkUnique(doc); err != nil {
		return err
	}

	stored := doc.Clone()
	stored.Owner = old.Owner
	p.unindexDoc(old)
	p.docs[doc.ID] = stored
	p.indexDoc(stored)
	return nil
}

func (p *Partition) Get(_ context.Context, id uuid.UUID) (*store.Document, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	doc, ok := p.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: record %s", common.ErrorNotFound, id)
	}
	return doc.Clone(), nil
}

func (p *Partition) Find(_ context.Context, key, value string) ([]*store.Document, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*store.Document
	for _, id := range p.order {
		doc := p.docs[id]
		if v, ok := doc.Keys[key]; ok && v == value {
			out = append(out, doc.Clone())
		}
	}
	return out, nil
}

func (p *Partition) All(_ context.Context, q store.Query) ([]*store.Document, error) {
	p.mu.RLock()
	snapshot := make([]*store.Document, 0, len(p.order))
	for _, id := range p.order {
		snapshot = append(snapshot, p.docs[id].Clone())
	}
	p.mu.RUnlock()

	return q.Apply(snapshot), nil
}

func (p *Partition) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, ok := p.docs[id]
	if !ok {
		return false, nil
	}
	p.unindexDoc(doc)
	delete(p.docs, id)
	if i := slices.Index(p.order, id); i >= 0 {
		p.order = slices.Delete(p.order, i, i+1)
	}
	return true, nil
}

// checkUnique must be called with the write lock held.
func (p *Partition) checkUnique(doc *store.Document) error {
	for _, k := range p.unique {
		v := doc.Keys[k]
		if owner, ok := p.index[k][v]; ok && owner != doc.ID {
			return fmt.Errorf("%w: %s %q already used in partition %s", common.ErrConflict, k, v, p.name)
		}
	}
	return nil
}

func (p *Partition) indexDoc(doc *store.Document) {
	for _, k := range p.unique {
		p.index[k][doc.Keys[k]] = doc.ID
	}
}

func (p *Partition) unindexDoc(doc *store.Document) {
	for _, k := range p.unique {
		delete(p.index[k], doc.Keys[k])
	}
}
