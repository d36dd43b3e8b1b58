package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mailkeep/mailkeep/internal/config"
	"github.com/mailkeep/mailkeep/internal/ingest"
	"github.com/mailkeep/mailkeep/internal/notify"
	"github.com/mailkeep/mailkeep/internal/storage"
	"github.com/mailkeep/mailkeep/internal/types"
)

// maxInboundBytes caps the raw message size accepted on the wire.
const maxInboundBytes = 50 << 20

// Service holds business logic and storage dependencies.
type Service struct {
	cfg       config.Config
	kv        storage.KV
	index     *storage.IndexStore
	engine    *storage.Engine
	ingestor  *ingest.Ingestor
	transport notify.Transport
	logger    *slog.Logger
}

// New constructs the service wiring.
func New(ctx context.Context, cfg config.Config) (*Service, error) {
	var (
		kv  storage.KV
		err error
	)

	switch cfg.Storage.Backend {
	case config.StorageBackendRedis:
		kv, err = storage.NewRedisKV(cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
	case config.StorageBackendBolt:
		kv, err = storage.NewBoltKV(cfg.Storage.BoltPath)
		if err != nil {
			return nil, err
		}
	default:
		kv = storage.NewMemoryKV()
	}

	logger := slog.Default()
	transport := notify.NewHTTPTransport(cfg.Notify, logger)

	return &Service{
		cfg:       cfg,
		kv:        kv,
		index:     storage.NewIndexStore(kv),
		engine:    storage.NewEngine(kv, logger),
		ingestor:  ingest.New(kv, transport, cfg, logger),
		transport: transport,
		logger:    logger,
	}, nil
}

// NewWithDeps wires a service from pre-built dependencies, for tests.
func NewWithDeps(cfg config.Config, kv storage.KV, transport notify.Transport, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		kv:        kv,
		index:     storage.NewIndexStore(kv),
		engine:    storage.NewEngine(kv, logger),
		ingestor:  ingest.New(kv, transport, cfg, logger),
		transport: transport,
		logger:    logger,
	}
}

// Handler builds the REST routes for the service.
func Handler(svc *Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1")
		if path == "" || path == "/" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
			return
		}

		switch {
		case path == "/inbound":
			svc.handleInbound(w, r)
		case strings.HasPrefix(path, "/entries"):
			svc.handleEntries(w, r, strings.TrimPrefix(path, "/entries"))
		case path == "/stats":
			svc.handleStats(w, r)
		case path == "/sweep":
			svc.handleSweep(w, r)
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
		}
	})
}

func (s *Service) handleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read request body"})
		return
	}
	if len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty message"})
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), raw)
	if err != nil {
		s.logger.Error("ingestion failed", "error", err)
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Degraded {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"id":            result.EntryID,
		"archived":      result.Archived,
		"degraded":      result.Degraded,
		"highFrequency": result.HighFrequency,
		"storedImages":  result.StoredImages,
		"skippedImages": result.SkippedImages,
		"notStored":     result.NotStored,
	})
}

func (s *Service) handleEntries(w http.ResponseWriter, r *http.Request, tail string) {
	tail = strings.Trim(tail, "/")

	switch {
	case tail == "" && r.Method == http.MethodGet:
		s.handleEntryList(w, r)
	case tail != "" && strings.HasSuffix(tail, "/star") && r.Method == http.MethodPost:
		s.handleStar(w, r, strings.TrimSuffix(tail, "/star"), true)
	case tail != "" && strings.HasSuffix(tail, "/unstar") && r.Method == http.MethodPost:
		s.handleStar(w, r, strings.TrimSuffix(tail, "/unstar"), false)
	case tail != "" && r.Method == http.MethodGet:
		s.handleEntryGet(w, r, tail)
	case tail != "" && r.Method == http.MethodDelete:
		s.handleEntryDelete(w, r, tail)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleEntryList runs an opportunistic expiry sweep before serving, so
// listings never show entries the retention policy already condemned.
func (s *Service) handleEntryList(w http.ResponseWriter, r *http.Request) {
	cfg := config.Resolve(r.Context(), s.kv, s.cfg)

	snap, err := s.index.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	removed, err := s.engine.Sweep(r.Context(), snap, cfg.Archive.Retention())
	if err != nil {
		writeError(w, err)
		return
	}
	if removed > 0 {
		if err := s.index.Save(r.Context(), snap); err != nil {
			writeError(w, err)
			return
		}
	}

	query := strings.ToLower(r.URL.Query().Get("q"))
	entries := make([]types.Entry, 0, snap.Len())
	for _, entry := range snap.Entries() {
		if query != "" &&
			!strings.Contains(strings.ToLower(entry.Sender), query) &&
			!strings.Contains(strings.ToLower(entry.Subject), query) {
			continue
		}
		entries = append(entries, entry)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleEntryGet(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.index.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	entry, ok := snap.Get(id)
	if !ok {
		writeError(w, &storage.NotFoundError{Resource: "entry", Key: id})
		return
	}

	_, bodyErr := s.kv.Get(r.Context(), storage.EntryBodyKey(id))
	writeJSON(w, http.StatusOK, map[string]any{
		"entry":      entry,
		"bodyStored": bodyErr == nil,
	})
}

func (s *Service) handleEntryDelete(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.index.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if !s.engine.DeleteEntry(r.Context(), snap, id) {
		writeError(w, &storage.NotFoundError{Resource: "entry", Key: id})
		return
	}
	if err := s.index.Save(r.Context(), snap); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Service) handleStar(w http.ResponseWriter, r *http.Request, id string, starred bool) {
	snap, err := s.index.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if !snap.SetStarred(id, starred) {
		writeError(w, &storage.NotFoundError{Resource: "entry", Key: id})
		return
	}
	if err := s.index.Save(r.Context(), snap); err != nil {
		writeError(w, err)
		return
	}
	entry, _ := snap.Get(id)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	cfg := config.Resolve(r.Context(), s.kv, s.cfg)

	snap, err := s.index.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	starred := 0
	for _, entry := range snap.Entries() {
		if entry.Starred {
			starred++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    snap.Len(),
		"starred":    starred,
		"totalSize":  snap.TotalSize(),
		"maxStorage": cfg.Archive.MaxStorage,
		"maxEntries": cfg.Archive.MaxEntries,
	})
}

func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	cfg := config.Resolve(r.Context(), s.kv, s.cfg)

	snap, err := s.index.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	removed, err := s.engine.Sweep(r.Context(), snap, cfg.Archive.Retention())
	if err != nil {
		writeError(w, err)
		return
	}
	pruned := s.engine.PruneCount(r.Context(), snap, cfg.Archive.Retention())

	if err := s.index.Save(r.Context(), snap); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"expired":   removed,
		"pruned":    pruned,
		"entries":   snap.Len(),
		"totalSize": snap.TotalSize(),
	})
}

func writeError(w http.ResponseWriter, err error) {
	var notFound *storage.NotFoundError
	if errors.As(err, &notFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": notFound.Error()})
		return
	}

	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": conflict.Error()})
		return
	}

	var validation *storage.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error()})
		return
	}

	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
