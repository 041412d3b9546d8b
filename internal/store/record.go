package store

import (
	"time"

	"github.com/google/uuid"
)

// Credentials is the opaque principal supplied by the authentication
// collaborator. The writer of a record owns it.
type Credentials string

// Record is implemented by every type persisted through a Stash. Record
// types are plain structs embedding Base and answering PartitionValue for
// each key their PartitionSettings declare.
type Record interface {
	GetID() uuid.UUID
	SetID(id uuid.UUID)
	GetCreatedAt() time.Time
	SetCreatedAt(t time.Time)

	// PartitionValue returns the value of the attribute named key.
	PartitionValue(key string) (any, bool)
}

// Base carries the fields common to all records.
type Base struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Base) GetID() uuid.UUID         { return b.ID }
func (b *Base) SetID(id uuid.UUID)       { b.ID = id }
func (b *Base) GetCreatedAt() time.Time  { return b.CreatedAt }
func (b *Base) SetCreatedAt(t time.Time) { b.CreatedAt = t }

// PartitionValue answers the built-in keys. Record types delegate to it
// for keys they do not declare themselves.
func (b *Base) PartitionValue(key string) (any, bool) {
	switch key {
	case IDKey.Key:
		return b.ID, true
	case CreatedAtKey.Key:
		return b.CreatedAt, true
	}
	return nil, false
}
