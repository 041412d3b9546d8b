package models

import (
	"fmt"

	"github.com/dmitrijs2005/gridstore/internal/store"
)

var (
	ParentKey      = store.PartitionKey{Key: "parent", Type: store.KeyTypeString}
	ChildKey       = store.PartitionKey{Key: "child", Type: store.KeyTypeString}
	ParentChildKey = store.PartitionKey{Key: "parent_child", Type: store.KeyTypeString}
)

var DataSubjectMemberSettings = store.PartitionSettings{
	Name:           "DataSubjectMemberRelationship",
	ObjectType:     "models.DataSubjectMemberRelationship",
	Version:        1,
	SearchableKeys: []store.PartitionKey{ParentKey, ChildKey},
	UniqueKeys:     []store.PartitionKey{ParentChildKey},
}

// DataSubjectMemberRelationship links a data subject to one of its members.
// A given parent/child pair may exist once.
type DataSubjectMemberRelationship struct {
	store.Base
	Parent string `json:"parent"`
	Child  string `json:"child"`
}

func NewDataSubjectMemberRelationship() *DataSubjectMemberRelationship {
	return &DataSubjectMemberRelationship{}
}

// Pair is the composite identity of the relationship. The parent length
// prefix keeps ("ab","c") and ("a","bc") distinct without a control byte,
// which Postgres rejects in TEXT and JSONB.
func (r *DataSubjectMemberRelationship) Pair() string {
	return fmt.Sprintf("%d:%s%s", len(r.Parent), r.Parent, r.Child)
}

func (r *DataSubjectMemberRelationship) PartitionValue(key string) (any, bool) {
	switch key {
	case ParentKey.Key:
		return r.Parent, true
	case ChildKey.Key:
		return r.Child, true
	case ParentChildKey.Key:
		return r.Pair(), true
	}
	return r.Base.PartitionValue(key)
}

func (r *DataSubjectMemberRelationship) String() string {
	return fmt.Sprintf("<DataSubjectMembership: %s -> %s>", r.Parent, r.Child)
}
