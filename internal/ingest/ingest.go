// Package ingest wires classification, stripping, charset recovery,
// rate detection, notification delivery and archival into the per-message
// pipeline.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mailkeep/mailkeep/internal/config"
	"github.com/mailkeep/mailkeep/internal/mailparse"
	"github.com/mailkeep/mailkeep/internal/notify"
	"github.com/mailkeep/mailkeep/internal/rate"
	"github.com/mailkeep/mailkeep/internal/storage"
	"github.com/mailkeep/mailkeep/internal/types"
)

const (
	subjectMaxRunes = 100
	bodyPreviewMax  = 3000
)

// Ingestor runs the full pipeline for one inbound message.
type Ingestor struct {
	kv        storage.KV
	index     *storage.IndexStore
	engine    *storage.Engine
	detector  *rate.Detector
	transport notify.Transport
	base      config.Config
	clock     func() time.Time
	logger    *slog.Logger
}

// New constructs an ingestor over the shared KV backend and transport.
func New(kv storage.KV, transport notify.Transport, base config.Config, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		kv:        kv,
		index:     storage.NewIndexStore(kv),
		engine:    storage.NewEngine(kv, logger),
		detector:  rate.NewDetector(kv, logger),
		transport: transport,
		base:      base,
		clock:     time.Now,
		logger:    logger,
	}
}

// SetClock replaces the time source, for tests. The retention engine and
// rate detector follow the same clock.
func (in *Ingestor) SetClock(clock func() time.Time) {
	in.clock = clock
	in.engine.SetClock(clock)
	in.detector.SetClock(clock)
}

// Result summarises what happened to one inbound message.
type Result struct {
	EntryID       string
	Archived      bool
	Degraded      bool
	HighFrequency bool
	StoredImages  int
	SkippedImages int
	NotStored     []string
}

// Ingest processes raw inbound MIME bytes end to end. Delivery failure
// aborts archival: nothing is persisted without a channel-assigned id to
// key by.
func (in *Ingestor) Ingest(ctx context.Context, raw []byte) (Result, error) {
	cfg := config.Resolve(ctx, in.kv, in.base)

	msg, err := mailparse.Parse(raw)
	if err != nil {
		return in.ingestDegraded(ctx, raw, err)
	}

	var photos, documents []mailparse.Attachment
	var notStored []string
	for _, att := range msg.Attachments {
		c := mailparse.Classify(att, cfg.Archive.MaxAttachmentSize, cfg.Archive.TrackingPixelThreshold)
		switch c.Action {
		case mailparse.ActionSendPhoto:
			photos = append(photos, att)
		case mailparse.ActionSendDocument:
			documents = append(documents, att)
		case mailparse.ActionListOnly:
			notStored = append(notStored, fmt.Sprintf("%s (%s, %d bytes)", attachmentName(att), c.Mime, c.Size))
		case mailparse.ActionIgnore:
			in.logger.Debug("tracking pixel ignored", "mime", c.Mime, "size", c.Size)
		}
	}

	text, html, recoveredCharset := mailparse.RecoverText(raw, msg.Text, msg.HTML)
	if recoveredCharset != "" {
		in.logger.Info("charset recovered", "charset", recoveredCharset)
	}

	high := in.detector.Check(ctx, cfg.Rate)

	body := buildNotification(msg, text, html, notStored, high)
	id, err := in.transport.SendMessage(ctx, body)
	if err != nil {
		return Result{}, fmt.Errorf("deliver notification: %w", err)
	}

	// Documents are delivered but never archived; a failed document send
	// does not fail the message.
	for _, att := range documents {
		if _, err := in.transport.SendDocument(ctx, msg.Subject, att.Content, attachmentName(att)); err != nil {
			in.logger.Warn("document delivery failed", "filename", att.Filename, "error", err)
		}
	}

	result := Result{
		EntryID:       id,
		HighFrequency: high,
		NotStored:     notStored,
	}

	if err := in.archive(ctx, cfg, raw, msg, id, photos, &result); err != nil {
		return result, err
	}
	result.Archived = true
	return result, nil
}

// archive persists the stripped artifact and retained images, then
// appends the entry and saves the index snapshot last.
func (in *Ingestor) archive(ctx context.Context, cfg config.Config, raw []byte, msg *mailparse.Message, id string, photos []mailparse.Attachment, result *Result) error {
	rcfg := cfg.Archive.Retention()

	snap, err := in.index.Load(ctx)
	if err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}
	if _, ok := snap.Get(id); ok {
		return &storage.ConflictError{Resource: "entry", Key: id}
	}

	if _, err := in.engine.Sweep(ctx, snap, rcfg); err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}

	artifact := mailparse.Strip(raw)
	textSize := int64(len(artifact))

	// The stripped text is always kept once the notification went out;
	// eviction makes room for it but a residual shortfall is only logged.
	in.engine.EvictForSpace(ctx, snap, rcfg, textSize)
	if err := in.kv.Put(ctx, storage.EntryBodyKey(id), artifact, 0); err != nil {
		return fmt.Errorf("store artifact %s: %w", id, err)
	}

	entry := types.Entry{
		ID:        id,
		Timestamp: in.clock().UnixMilli(),
		TextSize:  textSize,
		Sender:    msg.From,
		Subject:   truncateRunes(msg.Subject, subjectMaxRunes),
	}

	// The entry is appended only after this loop, so the snapshot does not
	// yet count the artifact stored above or earlier images; quota checks
	// carry that pending usage explicitly.
	pending := textSize
	for i, att := range photos {
		size := att.PayloadSize()
		ttl := storage.ImageTTLSeconds(size, cfg.Archive.TierMultiplier)

		if snap.TotalSize()+pending+size > rcfg.MaxStorage {
			if _, ok := in.engine.EvictForSpace(ctx, snap, rcfg, pending+size); !ok {
				in.logger.Warn("image skipped, quota shortfall",
					"entry", id, "index", i, "size", size, "totalSize", snap.TotalSize())
				result.SkippedImages++
				continue
			}
		}

		if err := in.kv.Put(ctx, storage.EntryImageKey(id, i), att.Content, 0); err != nil {
			in.logger.Warn("image store failed", "entry", id, "index", i, "error", err)
			result.SkippedImages++
			continue
		}

		if _, err := in.transport.SendPhoto(ctx, attachmentName(att), att.Content, attachmentName(att)); err != nil {
			in.logger.Warn("photo delivery failed", "entry", id, "index", i, "error", err)
		}

		entry.Images = append(entry.Images, types.ImageRef{
			Index:      i,
			Size:       size,
			TTLSeconds: ttl,
			Filename:   att.Filename,
			MimeType:   att.MimeType,
		})
		pending += size
		result.StoredImages++
	}

	snap.Append(entry)
	in.engine.PruneCount(ctx, snap, rcfg)

	if err := in.index.Save(ctx, snap); err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}
	return nil
}

// ingestDegraded handles an unparseable message: the notification is
// sent with whatever sender and subject the top headers yield, and
// nothing is archived.
func (in *Ingestor) ingestDegraded(ctx context.Context, raw []byte, parseErr error) (Result, error) {
	in.logger.Warn("message parse failed, degrading", "error", parseErr)

	sender := scrapeHeader(raw, "From")
	subject := scrapeHeader(raw, "Subject")
	body := fmt.Sprintf("unreadable message\nfrom: %s\nsubject: %s", sender, subject)

	id, err := in.transport.SendMessage(ctx, body)
	if err != nil {
		return Result{}, fmt.Errorf("deliver degraded notification: %w", err)
	}
	return Result{EntryID: id, Degraded: true}, nil
}

func buildNotification(msg *mailparse.Message, text, html string, notStored []string, compact bool) string {
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	if compact {
		return fmt.Sprintf("%s — %s", msg.From, subject)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from: %s\n", msg.From)
	if msg.To != "" {
		fmt.Fprintf(&b, "to: %s\n", msg.To)
	}
	if msg.Cc != "" {
		fmt.Fprintf(&b, "cc: %s\n", msg.Cc)
	}
	fmt.Fprintf(&b, "subject: %s\n", subject)
	if !msg.Date.IsZero() {
		fmt.Fprintf(&b, "date: %s\n", msg.Date.Format(time.RFC1123Z))
	}

	preview := text
	if preview == "" {
		preview = html
	}
	if preview != "" {
		b.WriteString("\n")
		b.WriteString(truncateRunes(strings.TrimSpace(preview), bodyPreviewMax))
		b.WriteString("\n")
	}

	if len(notStored) > 0 {
		b.WriteString("\nnot stored:\n")
		for _, line := range notStored {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func attachmentName(att mailparse.Attachment) string {
	if att.Filename != "" {
		return att.Filename
	}
	return "attachment"
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// scrapeHeader pulls a single header value out of raw bytes without a
// MIME parser, for the degraded path.
func scrapeHeader(raw []byte, name string) string {
	header := raw
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		header = raw[:i]
	} else if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		header = raw[:i]
	}

	prefix := strings.ToLower(name) + ":"
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if strings.HasPrefix(strings.ToLower(string(line)), prefix) {
			return strings.TrimSpace(string(line[len(prefix):]))
		}
	}
	return ""
}
