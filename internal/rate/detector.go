// Package rate detects inbound traffic bursts with a sliding window of
// ingestion timestamps persisted in the KV store.
package rate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mailkeep/mailkeep/internal/storage"
)

// minStateTTL floors the persisted window state so very short windows
// still produce a usable KV TTL.
const minStateTTL = time.Minute

// Config holds the detection window and threshold.
type Config struct {
	Window    time.Duration
	Threshold int
}

// Detector classifies the current moment as high-frequency or not.
type Detector struct {
	kv     storage.KV
	clock  func() time.Time
	logger *slog.Logger
}

// NewDetector wires a detector to a KV backend.
func NewDetector(kv storage.KV, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{kv: kv, clock: time.Now, logger: logger}
}

// SetClock replaces the time source, for tests.
func (d *Detector) SetClock(clock func() time.Time) {
	d.clock = clock
}

// Check records the current call and reports whether the number of
// recorded calls inside the window strictly exceeds the threshold.
// Read failures fail open: a broken counter must not block ingestion,
// so the state is treated as empty.
func (d *Detector) Check(ctx context.Context, cfg Config) bool {
	now := d.clock().UnixMilli()
	cutoff := now - cfg.Window.Milliseconds()

	var stamps []int64
	raw, err := d.kv.Get(ctx, storage.RateKey)
	if err == nil {
		if err := json.Unmarshal(raw, &stamps); err != nil {
			d.logger.Warn("rate state unreadable, resetting", "error", err)
			stamps = nil
		}
	} else if !storage.IsNotFound(err) {
		d.logger.Warn("rate state read failed, failing open", "error", err)
	}

	recent := stamps[:0]
	for _, ts := range stamps {
		if ts >= cutoff {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)

	ttl := cfg.Window
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}
	if ttl < minStateTTL {
		ttl = minStateTTL
	}

	payload, err := json.Marshal(recent)
	if err == nil {
		if err := d.kv.Put(ctx, storage.RateKey, payload, ttl); err != nil {
			d.logger.Warn("rate state write failed", "error", err)
		}
	}

	return len(recent) > cfg.Threshold
}
