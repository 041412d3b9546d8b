package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/dmitrijs2005/gridstore/internal/logging"
)

type partitionID struct {
	name       string
	objectType string
}

// DocumentStore is the process-wide registry of partitions over one Backend.
// Partitions are opened on first access and memoized; the registry only grows.
type DocumentStore struct {
	backend Backend
	root    Credentials
	logger  logging.Logger

	mu         sync.RWMutex
	registry   map[string]PartitionSettings
	partitions map[partitionID]Partition
}

// NewDocumentStore wraps an opened backend. root is the node principal that
// may read and update every record regardless of owner.
func NewDocumentStore(backend Backend, root Credentials, logger logging.Logger) *DocumentStore {
	if logger == nil {
		logger = logging.Nop()
	}
	return &DocumentStore{
		backend:    backend,
		root:       root,
		logger:     logger,
		registry:   make(map[string]PartitionSettings),
		partitions: make(map[partitionID]Partition),
	}
}

func (ds *DocumentStore) Root() Credentials {
	return ds.root
}

// Register declares a record type. Registering identical settings twice is a
// no-op; a different declaration under a known name is rejected.
func (ds *DocumentStore) Register(settings PartitionSettings) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.register(settings)
}

func (ds *DocumentStore) register(settings PartitionSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if existing, ok := ds.registry[settings.Name]; ok {
		if !existing.Equal(settings) {
			return fmt.Errorf("%w: partition %s already registered with different settings", common.ErrConflict, settings.Name)
		}
		return nil
	}
	ds.registry[settings.Name] = settings
	return nil
}

// Registered lists the declared partitions ordered by name.
func (ds *DocumentStore) Registered() []PartitionSettings {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	out := make([]PartitionSettings, 0, len(ds.registry))
	for _, s := range ds.registry {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b PartitionSettings) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// GetOrCreatePartition returns the partition for settings, opening it on the
// backend the first time. Repeated calls share the same handle.
func (ds *DocumentStore) GetOrCreatePartition(ctx context.Context, settings PartitionSettings) (Partition, error) {
	id := partitionID{name: settings.Name, objectType: settings.ObjectType}

	ds.mu.RLock()
	p, ok := ds.partitions[id]
	ds.mu.RUnlock()
	if ok {
		return p, nil
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if p, ok := ds.partitions[id]; ok {
		return p, nil
	}
	if err := ds.register(settings); err != nil {
		return nil, err
	}

	p, err := ds.backend.Partition(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: open partition %s: %v", common.ErrBackendUnavailable, settings.Name, err)
	}
	ds.partitions[id] = p

	ds.logger.Info(ctx, "partition opened",
		"partition", settings.Name,
		"object_type", settings.ObjectType,
		"unique_keys", settings.UniqueKeyNames())

	return p, nil
}

// Close releases the backend.
func (ds *DocumentStore) Close() error {
	return ds.backend.Close()
}
