package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mailkeep/mailkeep/internal/types"
)

// RetentionConfig carries the tunables the engine needs. It is resolved
// once per request and passed in explicitly; the engine never reads
// ambient globals.
type RetentionConfig struct {
	MaxStorage     int64   // byte quota for the whole archive
	MaxEntries     int     // cap on the unstarred entry population
	TextTTLSeconds int64   // retention for stripped text artifacts
	TierMultiplier float64 // scales the image TTL tier table
	SizeWeight     float64 // eviction score weight on entry size
	AgeWeight      float64 // eviction score weight on relative age
	SizeNorm       int64   // size normalization constant for scoring
}

type ttlTier struct {
	maxSize    int64
	ttlSeconds int64
}

// Image TTL bands, first match on size <= maxSize; the last band covers
// everything above 5 MiB.
var ttlTiers = []ttlTier{
	{1 << 20, 5184000},  // <= 1 MiB: 60 days
	{2 << 20, 2592000},  // <= 2 MiB: 30 days
	{5 << 20, 1296000},  // <= 5 MiB: 15 days
	{0, 604800},         // larger: 7 days
}

// ImageTTLSeconds returns the tiered retention for an image of the given
// size, scaled by the configured multiplier.
func ImageTTLSeconds(size int64, multiplier float64) int64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	for _, tier := range ttlTiers {
		if tier.maxSize == 0 || size <= tier.maxSize {
			return int64(float64(tier.ttlSeconds) * multiplier)
		}
	}
	return int64(float64(ttlTiers[len(ttlTiers)-1].ttlSeconds) * multiplier)
}

// Engine expires and evicts archive entries against a loaded snapshot,
// keeping the KV payloads and the index in lock-step.
type Engine struct {
	kv     KV
	clock  func() time.Time
	logger *slog.Logger
}

// NewEngine constructs a retention engine over the given KV backend.
func NewEngine(kv KV, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{kv: kv, clock: time.Now, logger: logger}
}

// SetClock replaces the time source, for tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Sweep removes every unstarred entry whose text TTL has elapsed and
// whose images have all individually expired. A single surviving image
// keeps the whole entry alive. Running the sweep twice with no time
// elapsed removes nothing further.
func (e *Engine) Sweep(ctx context.Context, snap *Snapshot, cfg RetentionConfig) (int, error) {
	now := e.clock().UnixMilli()

	var expired []string
	for _, entry := range snap.Entries() {
		if entry.Starred {
			continue
		}
		textExpired := now > entry.Timestamp+cfg.TextTTLSeconds*1000
		allImagesExpired := true
		for _, img := range entry.Images {
			if now <= entry.Timestamp+img.TTLSeconds*1000 {
				allImagesExpired = false
				break
			}
		}
		if textExpired && allImagesExpired {
			expired = append(expired, entry.ID)
		}
	}

	for _, id := range expired {
		entry, ok := snap.Remove(id)
		if !ok {
			continue
		}
		e.deletePayloads(ctx, entry)
		e.logger.Info("entry expired", "id", entry.ID, "size", entry.Size())
	}
	return len(expired), nil
}

// EvictForSpace frees room for neededBytes by repeatedly evicting the
// highest-scoring unstarred entry. The loop is bounded: it stops once
// the target is reached or no unstarred candidate remains, in which case
// the remaining shortfall is reported via the returned flag.
func (e *Engine) EvictForSpace(ctx context.Context, snap *Snapshot, cfg RetentionConfig, neededBytes int64) (int, bool) {
	target := cfg.MaxStorage - neededBytes
	evicted := 0

	for snap.TotalSize() > target {
		id, ok := e.pickVictim(snap, cfg)
		if !ok {
			e.logger.Warn("quota still exceeded after eviction",
				"totalSize", snap.TotalSize(), "target", target, "evicted", evicted)
			return evicted, false
		}
		entry, _ := snap.Remove(id)
		e.deletePayloads(ctx, entry)
		e.logger.Info("entry evicted", "id", entry.ID, "size", entry.Size())
		evicted++
	}
	return evicted, true
}

// pickVictim scores every unstarred entry and returns the highest.
// Larger entries that have outlived more of their own retention promise
// score higher.
func (e *Engine) pickVictim(snap *Snapshot, cfg RetentionConfig) (string, bool) {
	now := e.clock().UnixMilli()
	sizeNorm := cfg.SizeNorm
	if sizeNorm <= 0 {
		sizeNorm = 5 << 20
	}

	best := ""
	bestScore := -1.0
	for _, entry := range snap.Entries() {
		if entry.Starred {
			continue
		}
		maxTTL := cfg.TextTTLSeconds
		for _, img := range entry.Images {
			if img.TTLSeconds > maxTTL {
				maxTTL = img.TTLSeconds
			}
		}
		if maxTTL < 1 {
			maxTTL = 1
		}
		age := float64(now - entry.Timestamp)
		score := cfg.SizeWeight*float64(entry.Size())/float64(sizeNorm) +
			cfg.AgeWeight*age/float64(maxTTL*1000)
		if score > bestScore {
			bestScore = score
			best = entry.ID
		}
	}
	return best, best != ""
}

// PruneCount removes the oldest unstarred entries once the unstarred
// population exceeds the configured cap, regardless of byte quota.
func (e *Engine) PruneCount(ctx context.Context, snap *Snapshot, cfg RetentionConfig) int {
	if cfg.MaxEntries <= 0 {
		return 0
	}

	var unstarred []types.Entry
	for _, entry := range snap.Entries() {
		if !entry.Starred {
			unstarred = append(unstarred, entry)
		}
	}
	excess := len(unstarred) - cfg.MaxEntries
	if excess <= 0 {
		return 0
	}

	sort.Slice(unstarred, func(i, j int) bool {
		return unstarred[i].Timestamp < unstarred[j].Timestamp
	})

	for i := 0; i < excess; i++ {
		entry, ok := snap.Remove(unstarred[i].ID)
		if !ok {
			continue
		}
		e.deletePayloads(ctx, entry)
		e.logger.Info("entry pruned", "id", entry.ID, "timestamp", entry.Timestamp)
	}
	return excess
}

// DeleteEntry removes a single entry and its payloads, for explicit
// deletes coming through the API.
func (e *Engine) DeleteEntry(ctx context.Context, snap *Snapshot, id string) bool {
	entry, ok := snap.Remove(id)
	if !ok {
		return false
	}
	e.deletePayloads(ctx, entry)
	return true
}

// deletePayloads issues all KV deletes for an entry concurrently and
// waits for them, so the shrunk snapshot is never persisted ahead of a
// dangling payload reference.
func (e *Engine) deletePayloads(ctx context.Context, entry types.Entry) {
	var wg sync.WaitGroup

	del := func(key string) {
		defer wg.Done()
		if err := e.kv.Delete(ctx, key); err != nil {
			e.logger.Warn("payload delete failed", "key", key, "error", err)
		}
	}

	if entry.TextSize > 0 {
		wg.Add(1)
		go del(EntryBodyKey(entry.ID))
	}
	for _, img := range entry.Images {
		wg.Add(1)
		go del(EntryImageKey(entry.ID, img.Index))
	}
	wg.Wait()
}
