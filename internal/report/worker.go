// Package report renders run reports asynchronously and persists the
// resulting artifacts through the blob store.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"derivcore/internal/blob"
	"derivcore/internal/core"
	"derivcore/internal/export"
	"derivcore/pkg/domain"
)

// Format identifies a report rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Status describes the lifecycle stage of a report request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures a stored report artifact.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Input is an enqueue request: everything needed to render a run report
// without touching the live store again.
type Input struct {
	RunID       string
	Document    export.Document
	Results     []domain.ValidationResult
	Summaries   []core.CategorySummary
	Formats     []Format
	RequestedBy string
	Reason      string
}

// Record tracks a report request and its resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// document is the JSON report payload.
type document struct {
	RunID     string                    `json:"run_id"`
	Canonical export.Document           `json:"canonical"`
	Results   []domain.ValidationResult `json:"results"`
	Summaries []core.CategorySummary    `json:"summaries"`
}

// Worker renders report requests off a bounded queue.
type Worker struct {
	store  blob.Store
	audit  AuditLogger
	logger *slog.Logger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id    string
	input Input
}

// NewWorker constructs a report worker. The audit logger may be nil.
func NewWorker(store blob.Store, audit AuditLogger, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:  store,
		audit:  audit,
		logger: logger,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing report requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules a report job and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if input.RunID == "" {
		return Record{}, fmt.Errorf("run id required")
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		if f != FormatJSON && f != FormatCSV {
			return Record{}, fmt.Errorf("unsupported report format %s", f)
		}
		uniq = append(uniq, f)
		seen[f] = struct{}{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := Record{
		ID:          id,
		RunID:       input.RunID,
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	w.record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		Action:     "report_render",
		Actor:      input.RequestedBy,
		RunID:      input.RunID,
		Status:     StatusQueued,
		Reason:     input.Reason,
		OccurredAt: now,
	})

	select {
	case w.queue <- task{id: id, input: input}:
	default:
		return Record{}, fmt.Errorf("report queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the report record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(t task) {
	w.updateStatus(t.id, StatusRunning, "")

	w.mu.RLock()
	record, ok := w.jobs[t.id]
	w.mu.RUnlock()
	if !ok {
		return
	}

	artifacts := make([]Artifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		payload, contentType, err := render(format, t.input)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		key := fmt.Sprintf("reports/%s/%s.%s", t.input.RunID, t.id, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"run_id": t.input.RunID},
		})
		if err != nil {
			w.fail(t.id, fmt.Sprintf("store artifact: %v", err))
			return
		}
		artifacts = append(artifacts, Artifact{
			Key:         info.Key,
			Format:      format,
			ContentType: contentType,
			SizeBytes:   info.Size,
			URL:         info.URL,
			CreatedAt:   info.LastModified,
		})
	}
	w.complete(t.id, artifacts)
	w.logger.Info("report rendered", "report_id", t.id, "run_id", t.input.RunID, "artifacts", len(artifacts))
}

func render(format Format, input Input) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(document{
			RunID:     input.RunID,
			Canonical: input.Document,
			Results:   input.Results,
			Summaries: input.Summaries,
		}, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal report: %w", err)
		}
		return append(payload, '\n'), "application/json", nil
	case FormatCSV:
		payload, err := renderCSV(input.Results)
		if err != nil {
			return nil, "", err
		}
		return payload, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported report format %s", format)
	}
}

func renderCSV(results []domain.ValidationResult) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	header := []string{"id", "name", "status", "computed", "experimental", "bound_type", "sigma", "ratio", "units", "source", "notes"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, r := range results {
		row := []string{
			r.ParameterID,
			r.Name,
			string(r.Status),
			export.FormatValue(r.Computed),
			optional(r.Experimental),
			string(r.BoundType),
			optional(r.Sigma),
			optional(r.Ratio),
			r.Units,
			r.Source,
			r.Notes,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func (w *Worker) updateStatus(id string, status Status, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	var runID, actor string
	if ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
		runID, actor = record.RunID, record.RequestedBy
	}
	w.mu.Unlock()
	if ok {
		w.record(w.ctx, AuditEntry{ID: uuid.NewString(), Action: "report_render", Actor: actor, RunID: runID, Status: status, OccurredAt: now})
	}
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	var runID, actor string
	if ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.UpdatedAt = now
		record.CompletedAt = &now
		runID, actor = record.RunID, record.RequestedBy
	}
	w.mu.Unlock()
	if ok {
		w.record(w.ctx, AuditEntry{ID: uuid.NewString(), Action: "report_render", Actor: actor, RunID: runID, Status: StatusSucceeded, OccurredAt: now})
	}
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[id]
	var runID, actor string
	if ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
		runID, actor = record.RunID, record.RequestedBy
	}
	w.mu.Unlock()
	w.logger.Error("report failed", "report_id", id, "error", reason)
	if ok {
		w.record(w.ctx, AuditEntry{ID: uuid.NewString(), Action: "report_render", Actor: actor, RunID: runID, Status: StatusFailed, Detail: reason, OccurredAt: now})
	}
}

func (w *Worker) record(ctx context.Context, entry AuditEntry) {
	if w.audit != nil {
		w.audit.Record(ctx, entry)
	}
}

func (r Record) copy() Record {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	return dup
}
