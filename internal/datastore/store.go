// Package datastore implements the in-memory data store (C2) and the
// cached, outage-aware wrapper (C3) around an externally supplied
// persistent store.
package datastore

import (
	"context"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

// DataStore is the interface the rest of this module evaluates flags
// against: a versioned, kind-partitioned key-value store.
type DataStore interface {
	// Get returns the item for kind/key. ok is false if the key is
	// unknown; a known-deleted key returns ok=true with a tombstone
	// descriptor (Item == nil).
	Get(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.ItemDescriptor, bool, error)
	// All returns every non-deleted item of the given kind.
	All(ctx context.Context, kind flagmodel.DataKind) (map[string]flagmodel.ItemDescriptor, error)
	// Init replaces the entire contents of the store.
	Init(ctx context.Context, data flagmodel.FullDataSet) error
	// Upsert inserts or updates a single item, if item.Version is
	// newer than what is stored. Returns true if the write applied.
	Upsert(ctx context.Context, kind flagmodel.DataKind, key string, item flagmodel.ItemDescriptor) (bool, error)
	// Initialized reports whether Init has ever been called
	// successfully.
	Initialized(ctx context.Context) (bool, error)
	Close() error
}

// PersistentDataStore is the interface an external storage backend
// must satisfy to be wrapped by PersistentWrapper. It is deliberately
// narrower than DataStore: no caching or versioning logic belongs
// here, only raw reads/writes against the backing medium.
type PersistentDataStore interface {
	Get(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.SerializedItem, bool, error)
	All(ctx context.Context, kind flagmodel.DataKind) (map[string]flagmodel.SerializedItem, error)
	Init(ctx context.Context, data map[flagmodel.DataKind]map[string]flagmodel.SerializedItem) error
	Upsert(ctx context.Context, kind flagmodel.DataKind, key string, item flagmodel.SerializedItem) (bool, error)
	Initialized(ctx context.Context) (bool, error)
	IsAvailable(ctx context.Context) bool
	Close() error
}
