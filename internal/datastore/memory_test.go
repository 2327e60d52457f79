package datastore

import (
	"context"
	"testing"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
)

func TestMemory_InitAndGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Init(ctx, flagmodel.FullDataSet{
		flagmodel.Flags: {
			"flag1": {Version: 1, Item: &flagmodel.Flag{Key: "flag1", On: true}},
		},
	})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	item, ok, err := m.Get(ctx, flagmodel.Flags, "flag1")
	if err != nil || !ok {
		t.Fatalf("expected flag1 to exist, ok=%v err=%v", ok, err)
	}
	if f, ok := item.Item.(*flagmodel.Flag); !ok || !f.On {
		t.Errorf("expected flag1.On=true, got %+v", item.Item)
	}

	initialized, err := m.Initialized(ctx)
	if err != nil || !initialized {
		t.Errorf("expected Initialized()=true after Init, got %v %v", initialized, err)
	}
}

func TestMemory_UpsertMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	applied, err := m.Upsert(ctx, flagmodel.Flags, "f", flagmodel.ItemDescriptor{Version: 2, Item: &flagmodel.Flag{Key: "f", On: true}})
	if err != nil || !applied {
		t.Fatalf("expected initial upsert to apply, applied=%v err=%v", applied, err)
	}

	// A stale (lower or equal) version must not overwrite.
	applied, err = m.Upsert(ctx, flagmodel.Flags, "f", flagmodel.ItemDescriptor{Version: 1, Item: &flagmodel.Flag{Key: "f", On: false}})
	if err != nil || applied {
		t.Fatalf("expected stale upsert to be rejected, applied=%v err=%v", applied, err)
	}

	item, _, _ := m.Get(ctx, flagmodel.Flags, "f")
	if f := item.Item.(*flagmodel.Flag); !f.On {
		t.Error("stale upsert must not have overwritten the newer item")
	}

	// A newer version applies.
	applied, err = m.Upsert(ctx, flagmodel.Flags, "f", flagmodel.ItemDescriptor{Version: 3, Item: &flagmodel.Flag{Key: "f", On: false}})
	if err != nil || !applied {
		t.Fatalf("expected newer upsert to apply, applied=%v err=%v", applied, err)
	}
}

func TestMemory_TombstoneRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Upsert(ctx, flagmodel.Flags, "gone", flagmodel.ItemDescriptor{Version: 1, Item: &flagmodel.Flag{Key: "gone"}})
	applied, err := m.Upsert(ctx, flagmodel.Flags, "gone", flagmodel.ItemDescriptor{Version: 2, Item: nil})
	if err != nil || !applied {
		t.Fatalf("expected tombstone upsert to apply, applied=%v err=%v", applied, err)
	}

	item, ok, err := m.Get(ctx, flagmodel.Flags, "gone")
	if err != nil || !ok {
		t.Fatalf("expected tombstone to be retrievable, ok=%v err=%v", ok, err)
	}
	if !item.Deleted() {
		t.Error("expected item to report Deleted()=true")
	}

	all, err := m.All(ctx, flagmodel.Flags)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if _, present := all["gone"]; present {
		t.Error("All() must exclude tombstoned keys")
	}
}

func TestMemory_GetUnknownKind(t *testing.T) {
	m := NewMemory()
	_, ok, err := m.Get(context.Background(), flagmodel.DataKind("unknown"), "x")
	if err != nil || ok {
		t.Fatalf("expected ok=false for unknown kind, got ok=%v err=%v", ok, err)
	}
}

func TestMemory_Close(t *testing.T) {
	m := NewMemory()
	if err := m.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
}
