// Package store implements the node's object store: typed records persisted
// into named partitions of a pluggable Backend, with declared searchable and
// unique keys enforced identically for every record type.
//
// A record type declares its partition once, at startup:
//
//	var UserSettings = store.PartitionSettings{
//	    Name:           "User",
//	    ObjectType:     "models.User",
//	    Version:        1,
//	    SearchableKeys: []store.PartitionKey{EmailKey, NameKey},
//	    UniqueKeys:     []store.PartitionKey{EmailKey},
//	}
//
// and obtains a typed façade with NewStash.
package store

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/google/uuid"
)

// KeyType is the semantic type of a partition key. It decides how values are
// encoded for indexing and therefore how they sort.
type KeyType int

const (
	KeyTypeString KeyType = iota + 1
	KeyTypeInt
	KeyTypeBool
	KeyTypeTime
	KeyTypeUID
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeString:
		return "string"
	case KeyTypeInt:
		return "int"
	case KeyTypeBool:
		return "bool"
	case KeyTypeTime:
		return "time"
	case KeyTypeUID:
		return "uid"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// timeLayout is fixed width so that lexicographic order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// PartitionKey names a typed record attribute. It is a descriptor only.
type PartitionKey struct {
	Key  string
	Type KeyType
}

// Built-in keys indexed for every partition.
var (
	IDKey        = PartitionKey{Key: "id", Type: KeyTypeUID}
	CreatedAtKey = PartitionKey{Key: "created_at", Type: KeyTypeTime}
)

// Encode converts v into its index form. Encoded values of one key compare
// lexicographically in the natural order of the underlying values.
func (k PartitionKey) Encode(v any) (string, error) {
	switch k.Type {
	case KeyTypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KeyTypeInt:
		var n int64
		switch x := v.(type) {
		case int:
			n = int64(x)
		case int32:
			n = int64(x)
		case int64:
			n = x
		default:
			return "", k.mismatch(v)
		}
		// flipping the sign bit maps int64 order onto uint64 order
		return fmt.Sprintf("%020d", uint64(n)^(1<<63)), nil
	case KeyTypeBool:
		if b, ok := v.(bool); ok {
			if b {
				return "1", nil
			}
			return "0", nil
		}
	case KeyTypeTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(timeLayout), nil
		}
	case KeyTypeUID:
		if id, ok := v.(uuid.UUID); ok {
			return id.String(), nil
		}
	default:
		return "", fmt.Errorf("%w: key %q has unknown type %s", common.ErrorValidation, k.Key, k.Type)
	}
	return "", k.mismatch(v)
}

func (k PartitionKey) mismatch(v any) error {
	return fmt.Errorf("%w: key %q expects %s, got %T", common.ErrorValidation, k.Key, k.Type, v)
}

// PartitionSettings is the per-record-type configuration shared read-only by
// every Stash over that type.
type PartitionSettings struct {
	Name           string
	ObjectType     string
	Version        int
	SearchableKeys []PartitionKey
	UniqueKeys     []PartitionKey
}

// Validate checks the declaration for empty names and for key names reused
// with a different type.
func (s PartitionSettings) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: partition name is empty", common.ErrorValidation)
	}
	seen := map[string]KeyType{IDKey.Key: IDKey.Type, CreatedAtKey.Key: CreatedAtKey.Type}
	for _, k := range append(slices.Clone(s.SearchableKeys), s.UniqueKeys...) {
		if k.Key == "" {
			return fmt.Errorf("%w: partition %s declares an empty key", common.ErrorValidation, s.Name)
		}
		if k.Type < KeyTypeString || k.Type > KeyTypeUID {
			return fmt.Errorf("%w: partition %s key %q has unknown type", common.ErrorValidation, s.Name, k.Key)
		}
		if t, ok := seen[k.Key]; ok && t != k.Type {
			return fmt.Errorf("%w: partition %s key %q declared as both %s and %s", common.ErrorValidation, s.Name, k.Key, t, k.Type)
		}
		seen[k.Key] = k.Type
	}
	return nil
}

// Equal reports whether two declarations are identical.
func (s PartitionSettings) Equal(o PartitionSettings) bool {
	return s.Name == o.Name &&
		s.ObjectType == o.ObjectType &&
		s.Version == o.Version &&
		slices.Equal(s.SearchableKeys, o.SearchableKeys) &&
		slices.Equal(s.UniqueKeys, o.UniqueKeys)
}

// IndexedKeys returns the built-in keys followed by every searchable and
// unique key, without duplicates.
func (s PartitionSettings) IndexedKeys() []PartitionKey {
	keys := []PartitionKey{IDKey, CreatedAtKey}
	for _, k := range append(slices.Clone(s.SearchableKeys), s.UniqueKeys...) {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// UniqueKeyNames returns the names of the declared unique keys.
func (s PartitionSettings) UniqueKeyNames() []string {
	names := make([]string, 0, len(s.UniqueKeys))
	for _, k := range s.UniqueKeys {
		names = append(names, k.Key)
	}
	return names
}

func (s PartitionSettings) indexed(key PartitionKey) bool {
	return slices.Contains(s.IndexedKeys(), key)
}
