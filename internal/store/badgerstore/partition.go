package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
)

type storedDocument struct {
	Seq       uint64            `json:"seq"`
	Owner     string            `json:"owner"`
	CreatedAt time.Time         `json:"created_at"`
	Data      json.RawMessage   `json:"data"`
	Keys      map[string]string `json:"keys"`
}

// Partition implements store.Partition. Writers are serialised by mu so the
// unique-key check and the write it guards run in one badger transaction
// without competing writers on the same partition.
type Partition struct {
	db     *badger.DB
	name   string
	unique []string
	seq    *badger.Sequence

	mu sync.Mutex
}

func (p *Partition) docKey(id uuid.UUID) []byte { return key("d", p.name, id.String()) }
func (p *Partition) orderKey(seq uint64) []byte {
	return key("o", p.name, fmt.Sprintf("%020d", seq))
}
func (p *Partition) uniqueKey(k, v string) []byte { return key("u", p.name, k, v) }

func (p *Partition) Insert(_ context.Context, doc *store.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	seq, err := p.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	return p.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(p.docKey(doc.ID)); err == nil {
			return fmt.Errorf("%w: duplicate id %s", common.ErrConflict, doc.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := p.checkUnique(txn, doc); err != nil {
			return err
		}

		stored := storedDocument{
			Seq:       seq,
			Owner:     string(doc.Owner),
			CreatedAt: doc.CreatedAt,
			Data:      doc.Data,
			Keys:      doc.Keys,
		}
		if err := p.put(txn, doc.ID, stored); err != nil {
			return err
		}
		if err := txn.Set(p.orderKey(seq), []byte(doc.ID.String())); err != nil {
			return err
		}
		return p.setUnique(txn, doc.ID, doc.Keys)
	})
}

func (p *Partition) Replace(_ context.Context, doc *store.Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Update(func(txn *badger.Txn) error {
		old, err := p.load(txn, doc.ID)
		if err != nil {
			return err
		}
		if err := p.checkUnique(txn, doc); err != nil {
			return err
		}
		for _, k := range p.unique {
			if err := txn.Delete(p.uniqueKey(k, old.Keys[k])); err != nil {
				return err
			}
		}
		if err := p.setUnique(txn, doc.ID, doc.Keys); err != nil {
			return err
		}

		old.CreatedAt = doc.CreatedAt
		old.Data = doc.Data
		old.Keys = doc.Keys
		return p.put(txn, doc.ID, *old)
	})
}

func (p *Partition) Get(_ context.Context, id uuid.UUID) (*store.Document, error) {
	var doc *store.Document
	err := p.db.View(func(txn *badger.Txn) error {
		stored, err := p.load(txn, id)
		if err != nil {
			return err
		}
		doc = stored.document(id)
		return nil
	})
	return doc, err
}

func (p *Partition) Find(ctx context.Context, k, value string) ([]*store.Document, error) {
	for _, u := range p.unique {
		if u != k {
			continue
		}
		var out []*store.Document
		err := p.db.View(func(txn *badger.Txn) error {
			id, err := p.lookupUnique(txn, k, value)
			if err != nil || id == uuid.Nil {
				return err
			}
			stored, err := p.load(txn, id)
			if err != nil {
				return err
			}
			out = append(out, stored.document(id))
			return nil
		})
		return out, err
	}

	all, err := p.scan()
	if err != nil {
		return nil, err
	}
	var out []*store.Document
	for _, d := range all {
		if v, ok := d.Keys[k]; ok && v == value {
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *Partition) All(_ context.Context, q store.Query) ([]*store.Document, error) {
	docs, err := p.scan()
	if err != nil {
		return nil, err
	}
	return q.Apply(docs), nil
}

func (p *Partition) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var deleted bool
	err := p.db.Update(func(txn *badger.Txn) error {
		stored, err := p.load(txn, id)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, k := range p.unique {
			if err := txn.Delete(p.uniqueKey(k, stored.Keys[k])); err != nil {
				return err
			}
		}
		if err := txn.Delete(p.orderKey(stored.Seq)); err != nil {
			return err
		}
		if err := txn.Delete(p.docKey(id)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// scan returns every document in insertion order.
func (p *Partition) scan() ([]*store.Document, error) {
	var out []*store.Document
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix("o", p.name)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			id, err := uuid.ParseBytes(raw)
			if err != nil {
				return fmt.Errorf("corrupt order entry in %s: %w", p.name, err)
			}
			stored, err := p.load(txn, id)
			if err != nil {
				return err
			}
			out = append(out, stored.document(id))
		}
		return nil
	})
	return out, err
}

func (p *Partition) checkUnique(txn *badger.Txn, doc *store.Document) error {
	for _, k := range p.unique {
		v := doc.Keys[k]
		owner, err := p.lookupUnique(txn, k, v)
		if err != nil {
			return err
		}
		if owner != uuid.Nil && owner != doc.ID {
			return fmt.Errorf("%w: %s %q already used in partition %s", common.ErrConflict, k, v, p.name)
		}
	}
	return nil
}

// lookupUnique returns uuid.Nil when the value is free.
func (p *Partition) lookupUnique(txn *badger.Txn, k, v string) (uuid.UUID, error) {
	item, err := txn.Get(p.uniqueKey(k, v))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.ParseBytes(raw)
}

func (p *Partition) setUnique(txn *badger.Txn, id uuid.UUID, keys map[string]string) error {
	for _, k := range p.unique {
		if err := txn.Set(p.uniqueKey(k, keys[k]), []byte(id.String())); err != nil {
			return err
		}
	}
	return nil
}

func (p *Partition) load(txn *badger.Txn, id uuid.UUID) (*storedDocument, error) {
	item, err := txn.Get(p.docKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: record %s", common.ErrorNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var stored storedDocument
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("corrupt document %s in %s: %w", id, p.name, err)
	}
	return &stored, nil
}

func (p *Partition) put(txn *badger.Txn, id uuid.UUID, stored storedDocument) error {
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return txn.Set(p.docKey(id), raw)
}

func (s *storedDocument) document(id uuid.UUID) *store.Document {
	return &store.Document{
		ID:        id,
		Owner:     store.Credentials(s.Owner),
		CreatedAt: s.CreatedAt,
		Data:      []byte(s.Data),
		Keys:      s.Keys,
	}
}
