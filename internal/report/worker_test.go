package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"derivcore/internal/blob"
	"derivcore/internal/core"
	"derivcore/internal/export"
	"derivcore/pkg/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInput() Input {
	return Input{
		RunID: "run-123",
		Document: export.Document{
			Version: export.SchemaVersion,
			Parameters: map[string]export.ParameterRecord{
				"m_h": {Value: json.Number("125.1"), Unit: "GeV", Status: "predicted"},
			},
			Formulas: map[string]export.FormulaRecord{},
		},
		Results: []domain.ValidationResult{{
			ParameterID:  "m_h",
			Status:       domain.ValidationPass,
			Computed:     125.1,
			Experimental: domain.Float(125.25),
			BoundType:    domain.BoundCentral,
			Sigma:        domain.Float(0.88),
			Units:        "GeV",
		}},
		Summaries: []core.CategorySummary{{Category: "central", Count: 1, Passed: 1, PassRate: 1}},
	}
}

func waitTerminal(t *testing.T, w *Worker, id string) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := w.Get(id)
		if !ok {
			t.Fatalf("record %s disappeared", id)
		}
		if record.Status == StatusSucceeded || record.Status == StatusFailed {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("record %s never reached a terminal status", id)
	return Record{}
}

func TestWorkerRendersJSONAndCSVArtifacts(t *testing.T) {
	store := blob.NewMemory()
	audit := &MemoryAuditLog{}
	w := NewWorker(store, audit, testLogger())
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	record, err := w.Enqueue(context.Background(), testInput())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if record.Status != StatusQueued {
		t.Fatalf("queued status = %s", record.Status)
	}

	final := waitTerminal(t, w, record.ID)
	if final.Status != StatusSucceeded {
		t.Fatalf("status = %s, error = %s", final.Status, final.Error)
	}
	if len(final.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v", final.Artifacts)
	}

	infos, err := store.List(context.Background(), "reports/run-123/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("stored artifacts = %+v", infos)
	}

	_, rc, err := store.Get(context.Background(), final.Artifacts[1].Key)
	if err != nil {
		t.Fatalf("get csv: %v", err)
	}
	defer func() { _ = rc.Close() }()
	payload, _ := io.ReadAll(rc)
	body := string(payload)
	if !strings.HasPrefix(body, "id,name,status,") {
		t.Fatalf("csv header missing: %q", body)
	}
	if !strings.Contains(body, "m_h") || !strings.Contains(body, "PASS") {
		t.Fatalf("csv rows missing: %q", body)
	}
}

func TestWorkerJSONPayloadRoundTrips(t *testing.T) {
	store := blob.NewMemory()
	w := NewWorker(store, nil, testLogger())
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	record, err := w.Enqueue(context.Background(), Input{RunID: "run-json", Document: export.Document{Version: "1"}, Formats: []Format{FormatJSON}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	final := waitTerminal(t, w, record.ID)
	if final.Status != StatusSucceeded {
		t.Fatalf("status = %s: %s", final.Status, final.Error)
	}

	_, rc, err := store.Get(context.Background(), final.Artifacts[0].Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	var doc struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.RunID != "run-json" {
		t.Fatalf("run id = %q", doc.RunID)
	}
}

func TestWorkerRecordsAuditTrail(t *testing.T) {
	audit := &MemoryAuditLog{}
	w := NewWorker(blob.NewMemory(), audit, testLogger())
	w.Start()
	defer func() { _ = w.Stop(context.Background()) }()

	record, err := w.Enqueue(context.Background(), testInput())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitTerminal(t, w, record.ID)

	entries := audit.Entries()
	if len(entries) < 3 {
		t.Fatalf("entries = %+v, want queued/running/succeeded", entries)
	}
	if entries[0].Status != StatusQueued {
		t.Fatalf("first entry = %+v", entries[0])
	}
	last := entries[len(entries)-1]
	if last.Status != StatusSucceeded || last.RunID != "run-123" {
		t.Fatalf("last entry = %+v", last)
	}
}

func TestWorkerRejectsUnknownFormat(t *testing.T) {
	w := NewWorker(blob.NewMemory(), nil, testLogger())
	if _, err := w.Enqueue(context.Background(), Input{RunID: "r", Formats: []Format{"parquet"}}); err == nil {
		t.Fatalf("expected unsupported format to fail")
	}
	if _, err := w.Enqueue(context.Background(), Input{}); err == nil {
		t.Fatalf("expected missing run id to fail")
	}
}
