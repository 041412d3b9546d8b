package models

import (
	"github.com/dmitrijs2005/gridstore/internal/store"
	"github.com/google/uuid"
)

// UploadState tracks a blob through the multipart protocol:
// allocated -> in_progress -> complete, or failed when abandoned.
type UploadState string

const (
	UploadAllocated  UploadState = "allocated"
	UploadInProgress UploadState = "in_progress"
	UploadComplete   UploadState = "complete"
	UploadFailed     UploadState = "failed"
)

var (
	UploadStateKey  = store.PartitionKey{Key: "upload_state", Type: store.KeyTypeString}
	BlobPathKey     = store.PartitionKey{Key: "path", Type: store.KeyTypeString}
	BlobFileSizeKey = store.PartitionKey{Key: "file_size", Type: store.KeyTypeInt}
)

var BlobStorageEntrySettings = store.PartitionSettings{
	Name:           "BlobStorageEntry",
	ObjectType:     "models.BlobStorageEntry",
	Version:        1,
	SearchableKeys: []store.PartitionKey{UploadStateKey, BlobFileSizeKey},
	UniqueKeys:     []store.PartitionKey{BlobPathKey},
}

// SecureFilePathLocation addresses an object in the blob backend. ID is the
// backend's multipart upload id, Path the object key.
type SecureFilePathLocation struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// CreateBlobStorageEntry is the caller's request to allocate a blob.
type CreateBlobStorageEntry struct {
	ID        uuid.UUID `json:"id"`
	FileSize  int64     `json:"file_size"`
	Type      string    `json:"type"`
	Extension string    `json:"extension,omitempty"`
}

// Path is the object key: the entry id, plus the extension when one is given.
func (c CreateBlobStorageEntry) Path() string {
	if c.Extension == "" {
		return c.ID.String()
	}
	return c.ID.String() + "." + c.Extension
}

type BlobStorageEntry struct {
	store.Base
	Location    SecureFilePathLocation `json:"location"`
	FileSize    int64                  `json:"file_size"`
	Type        string                 `json:"type"`
	UploadState UploadState            `json:"upload_state"`
}

func NewBlobStorageEntry() *BlobStorageEntry { return &BlobStorageEntry{} }

func (e *BlobStorageEntry) PartitionValue(key string) (any, bool) {
	switch key {
	case UploadStateKey.Key:
		return string(e.UploadState), true
	case BlobPathKey.Key:
		return e.Location.Path, true
	case BlobFileSizeKey.Key:
		return e.FileSize, true
	}
	return e.Base.PartitionValue(key)
}
