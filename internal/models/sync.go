package models

import (
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
)

// SyncStateSettings indexes only the built-in keys; the latest state is found
// by ordering on created_at.
var SyncStateSettings = store.PartitionSettings{
	Name:       "SyncState",
	ObjectType: "models.SyncState",
	Version:    1,
}

// SyncState is a snapshot of the objects a node has synchronised. Previous
// links to the snapshot it superseded.
type SyncState struct {
	store.Base
	NodeID   uuid.UUID   `json:"node_id"`
	Previous *uuid.UUID  `json:"previous,omitempty"`
	Objects  []uuid.UUID `json:"objects"`
}

func NewSyncState() *SyncState { return &SyncState{} }
