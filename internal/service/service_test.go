package service

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mailkeep/mailkeep/internal/config"
	"github.com/mailkeep/mailkeep/internal/notify"
	"github.com/mailkeep/mailkeep/internal/rate"
	"github.com/mailkeep/mailkeep/internal/storage"
	"github.com/mailkeep/mailkeep/internal/types"
)

func testConfig() config.Config {
	return config.Config{
		Archive: config.ArchiveConfig{
			MaxStorage:             10 << 20,
			MaxEntries:             100,
			TextTTLSeconds:         5184000,
			TierMultiplier:         1,
			MaxAttachmentSize:      10 << 20,
			TrackingPixelThreshold: 4096,
			EvictSizeWeight:        0.4,
			EvictAgeWeight:         0.6,
			EvictSizeNorm:          5 << 20,
		},
		Rate: rate.Config{Window: 10 * time.Minute, Threshold: 10},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, storage.KV, *notify.MemoryTransport) {
	t.Helper()
	kv := storage.NewMemoryKV()
	tr := notify.NewMemoryTransport()
	svc := NewWithDeps(testConfig(), kv, tr, nil)
	srv := httptest.NewServer(Handler(svc))
	t.Cleanup(srv.Close)
	return srv, kv, tr
}

func plainMail(from, subject, body string) []byte {
	return []byte(strings.Join([]string{
		"From: " + from,
		"Subject: " + subject,
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
		"",
	}, "\r\n"))
}

func postInbound(t *testing.T, srv *httptest.Server, raw []byte) map[string]any {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/inbound", "message/rfc822", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post inbound: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("inbound status %d: %s", resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode inbound response: %v", err)
	}
	return out
}

func doJSON(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestInboundEndpoint(t *testing.T) {
	srv, _, tr := newTestServer(t)

	out := postInbound(t, srv, plainMail("alice@example.com", "hi", "body text"))
	if out["id"] == "" || out["archived"] != true {
		t.Fatalf("unexpected inbound response %v", out)
	}
	if len(tr.Sent()) != 1 {
		t.Fatalf("expected 1 delivered notification, got %d", len(tr.Sent()))
	}

	// Empty payload is rejected.
	resp, err := http.Post(srv.URL+"/api/v1/inbound", "message/rfc822", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("post empty: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message status %d", resp.StatusCode)
	}

	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/inbound", nil); status != http.StatusMethodNotAllowed {
		t.Fatalf("GET inbound status %d", status)
	}
}

func TestEntryLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)

	out := postInbound(t, srv, plainMail("alice@example.com", "hello", "body"))
	id := out["id"].(string)

	var list []types.Entry
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries", &list); status != http.StatusOK {
		t.Fatalf("list status %d", status)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("unexpected listing %+v", list)
	}

	var got struct {
		Entry      types.Entry `json:"entry"`
		BodyStored bool        `json:"bodyStored"`
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries/"+id, &got); status != http.StatusOK {
		t.Fatalf("get status %d", status)
	}
	if got.Entry.ID != id || !got.BodyStored {
		t.Fatalf("unexpected entry response %+v", got)
	}

	var starred types.Entry
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/entries/"+id+"/star", &starred); status != http.StatusOK {
		t.Fatalf("star status %d", status)
	}
	if !starred.Starred {
		t.Fatalf("entry not starred")
	}

	var stats map[string]any
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/stats", &stats); status != http.StatusOK {
		t.Fatalf("stats status %d", status)
	}
	if stats["entries"].(float64) != 1 || stats["starred"].(float64) != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}

	var unstarred types.Entry
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/entries/"+id+"/unstar", &unstarred); status != http.StatusOK {
		t.Fatalf("unstar status %d", status)
	}
	if unstarred.Starred {
		t.Fatalf("entry still starred")
	}

	if status := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/entries/"+id, nil); status != http.StatusOK {
		t.Fatalf("delete status %d", status)
	}
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries/"+id, nil); status != http.StatusNotFound {
		t.Fatalf("get after delete status %d", status)
	}
	if status := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/entries/"+id, nil); status != http.StatusNotFound {
		t.Fatalf("double delete status %d", status)
	}
}

func TestEntryListFilter(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postInbound(t, srv, plainMail("alice@example.com", "invoice march", "a"))
	postInbound(t, srv, plainMail("bob@example.com", "holiday photos", "b"))

	var list []types.Entry
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries?q=invoice", &list); status != http.StatusOK {
		t.Fatalf("filtered list status %d", status)
	}
	if len(list) != 1 || list[0].Subject != "invoice march" {
		t.Fatalf("filter returned %+v", list)
	}

	// Sender matching, case-insensitive.
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/entries?q=BOB", &list); status != http.StatusOK {
		t.Fatalf("sender filter status %d", status)
	}
	if len(list) != 1 || list[0].Sender == "" {
		t.Fatalf("sender filter returned %+v", list)
	}
}

func TestSweepEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	postInbound(t, srv, plainMail("alice@example.com", "keep", "fresh"))

	var out map[string]any
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sweep", &out); status != http.StatusOK {
		t.Fatalf("sweep status %d", status)
	}
	if out["expired"].(float64) != 0 || out["entries"].(float64) != 1 {
		t.Fatalf("unexpected sweep result %v", out)
	}

	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sweep", nil); status != http.StatusMethodNotAllowed {
		t.Fatalf("GET sweep status %d", status)
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if status := doJSON(t, http.MethodGet, srv.URL+"/api/v1/nope", nil); status != http.StatusNotFound {
		t.Fatalf("unknown route status %d", status)
	}
}
