package models

import (
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
)

var NodeIDKey = store.PartitionKey{Key: "node_id", Type: store.KeyTypeUID}

var NodeSettingsSettings = store.PartitionSettings{
	Name:       "NodeSettings",
	ObjectType: "models.NodeSettings",
	Version:    2,
	UniqueKeys: []store.PartitionKey{NodeIDKey},
}

// NodeSettings describes the node itself. A node keeps a single record.
type NodeSettings struct {
	store.Base
	NodeID         uuid.UUID `json:"node_id"`
	Name           string    `json:"name"`
	Organization   string    `json:"organization"`
	Description    string    `json:"description"`
	DeploymentType string    `json:"deployment_type"`
	SignupEnabled  bool      `json:"signup_enabled"`
}

func NewNodeSettings() *NodeSettings { return &NodeSettings{} }

func (s *NodeSettings) PartitionValue(key string) (any, bool) {
	if key == NodeIDKey.Key {
		return s.NodeID, true
	}
	return s.Base.PartitionValue(key)
}
