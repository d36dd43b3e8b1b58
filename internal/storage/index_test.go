package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mailkeep/mailkeep/internal/types"
)

func checkInvariant(t *testing.T, snap *Snapshot) {
	t.Helper()
	var sum int64
	for _, entry := range snap.Entries() {
		sum += entry.Size()
	}
	if snap.TotalSize() != sum {
		t.Fatalf("totalSize %d does not match entry sum %d", snap.TotalSize(), sum)
	}
}

func TestSnapshotAccounting(t *testing.T) {
	snap := NewSnapshot(types.Index{})

	snap.Append(types.Entry{ID: "a", TextSize: 100})
	snap.Append(types.Entry{
		ID:       "b",
		TextSize: 50,
		Images: []types.ImageRef{
			{Index: 0, Size: 200},
			{Index: 1, Size: 300},
		},
	})
	checkInvariant(t, snap)

	if snap.TotalSize() != 650 {
		t.Fatalf("expected total 650, got %d", snap.TotalSize())
	}

	entry, ok := snap.Get("b")
	if !ok || entry.Size() != 550 {
		t.Fatalf("unexpected lookup result: %+v ok=%t", entry, ok)
	}

	removed, ok := snap.Remove("b")
	if !ok || removed.ID != "b" {
		t.Fatalf("remove failed")
	}
	checkInvariant(t, snap)
	if snap.TotalSize() != 100 {
		t.Fatalf("expected total 100 after removal, got %d", snap.TotalSize())
	}

	if _, ok := snap.Get("b"); ok {
		t.Fatalf("removed entry still resolvable")
	}
	if _, ok := snap.Remove("b"); ok {
		t.Fatalf("double remove succeeded")
	}

	// Removing from the middle must keep the position map coherent.
	snap.Append(types.Entry{ID: "c", TextSize: 10})
	snap.Append(types.Entry{ID: "d", TextSize: 20})
	snap.Remove("c")
	entry, ok = snap.Get("d")
	if !ok || entry.TextSize != 20 {
		t.Fatalf("position map stale after middle removal")
	}
	checkInvariant(t, snap)
}

func TestSnapshotTotalSizeClamped(t *testing.T) {
	snap := NewSnapshot(types.Index{
		Entries:   []types.Entry{{ID: "a", TextSize: 100}},
		TotalSize: 40, // corrupted: less than the entry's contribution
	})
	snap.Remove("a")
	if snap.TotalSize() != 0 {
		t.Fatalf("expected clamp to zero, got %d", snap.TotalSize())
	}
}

func TestSnapshotStar(t *testing.T) {
	snap := NewSnapshot(types.Index{})
	snap.Append(types.Entry{ID: "a", TextSize: 1})

	if !snap.SetStarred("a", true) {
		t.Fatalf("star failed")
	}
	entry, _ := snap.Get("a")
	if !entry.Starred {
		t.Fatalf("star not applied")
	}
	if snap.SetStarred("missing", true) {
		t.Fatalf("star succeeded for missing entry")
	}
}

func TestIndexStoreRoundTripMemory(t *testing.T) {
	testIndexStoreRoundTrip(t, NewMemoryKV())
}

func TestIndexStoreRoundTripRedis(t *testing.T) {
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mini.Close)

	kv, err := NewRedisKV(RedisConfig{Addr: mini.Addr()})
	if err != nil {
		t.Fatalf("create redis kv: %v", err)
	}
	testIndexStoreRoundTrip(t, kv)
}

func testIndexStoreRoundTrip(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()
	store := NewIndexStore(kv)

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load empty index: %v", err)
	}
	if snap.Len() != 0 || snap.TotalSize() != 0 {
		t.Fatalf("expected empty snapshot")
	}

	snap.Append(types.Entry{
		ID:        "msg-1",
		Timestamp: 1700000000000,
		TextSize:  128,
		Images:    []types.ImageRef{{Index: 0, Size: 2048, TTLSeconds: 5184000}},
		Sender:    "alice@example.com",
		Subject:   "hello",
	})
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != 1 || reloaded.TotalSize() != 2176 {
		t.Fatalf("unexpected reload state: len=%d total=%d", reloaded.Len(), reloaded.TotalSize())
	}
	entry, ok := reloaded.Get("msg-1")
	if !ok || entry.Sender != "alice@example.com" || entry.Images[0].TTLSeconds != 5184000 {
		t.Fatalf("entry metadata lost on round trip: %+v", entry)
	}
	checkInvariant(t, reloaded)
}

func TestMemoryKVTTL(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	now := int64(1700000000000)
	kv.SetClock(fixedClock(&now))

	if err := kv.Put(ctx, "k", []byte("v"), 10*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	now += 11_000
	if _, err := kv.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected not found after TTL, got %v", err)
	}
}
