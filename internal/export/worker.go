// Package export renders a team's item list into downloadable report
// artifacts and stores them in the blob store. Requests are processed
// asynchronously by a single worker goroutine.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"kitcore/internal/blob"
	"kitcore/pkg/domain"
)

// Format identifies a report output format.
type Format string

// Supported report formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Status describes the lifecycle stage of an export request.
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

// Record tracks an export request and resulting artifacts.
type Record struct {
	ID          string     `json:"id"`
	TeamID      string     `json:"team_id"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	cp := r
	cp.Formats = append([]Format(nil), r.Formats...)
	cp.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}

// Input represents an enqueue request for the worker.
type Input struct {
	TeamID      string
	Formats     []Format
	RequestedBy string
}

// ItemSource provides the team lookups and item listings the worker renders.
type ItemSource interface {
	GetTeam(ctx context.Context, teamID string) (domain.Team, error)
	ListTeamItems(ctx context.Context, teamID string) ([]domain.Item, error)
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit trail metadata for exports.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	TeamID     string    `json:"team_id"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Worker executes report exports asynchronously.
type Worker struct {
	source ItemSource
	store  blob.Store
	audit  AuditLogger

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

// NewWorker constructs an export worker.
func NewWorker(source ItemSource, store blob.Store, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		audit:  audit,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
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

// Enqueue schedules an export job and returns the queued record. The team
// must exist at enqueue time; the item listing happens when the job runs.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if input.TeamID == "" {
		return Record{}, fmt.Errorf("team id required")
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatCSV, FormatJSON}
	}
	seen := make(map[Format]struct{}, len(formats))
	uniq := make([]Format, 0, len(formats))
	for _, f := range formats {
		if f != FormatCSV && f != FormatJSON {
			return Record{}, fmt.Errorf("unsupported format %s", f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}
	if _, err := w.source.GetTeam(ctx, input.TeamID); err != nil {
		return Record{}, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	record := Record{
		ID:          id,
		TeamID:      input.TeamID,
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queued := record.copy()
	w.mu.Unlock()

	if w.audit != nil {
		w.audit.Record(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "report_export",
			Actor:      input.RequestedBy,
			TeamID:     input.TeamID,
			Status:     StatusQueued,
			OccurredAt: now,
		})
	}

	select {
	case w.queue <- task{id: id, input: input}:
	default:
		return Record{}, fmt.Errorf("export queue full")
	}
	return queued, nil
}

// Get returns a snapshot of the export record.
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
	w.update(t.id, func(r *Record) { r.Status = StatusRunning })

	items, err := w.source.ListTeamItems(w.ctx, t.input.TeamID)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("list items: %v", err))
		return
	}

	record, ok := w.Get(t.id)
	if !ok {
		return
	}
	var artifacts []Artifact
	for _, format := range record.Formats {
		payload, contentType, err := render(format, items)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		key := fmt.Sprintf("exports/%s/%s.%s", t.input.TeamID, t.id, format)
		info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"team_id": t.input.TeamID, "requested_by": t.input.RequestedBy},
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

	now := time.Now().UTC()
	w.update(t.id, func(r *Record) {
		r.Status = StatusSucceeded
		r.Artifacts = artifacts
		r.CompletedAt = &now
	})
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "report_export",
			Actor:      record.RequestedBy,
			TeamID:     record.TeamID,
			Status:     StatusSucceeded,
			OccurredAt: now,
		})
	}
}

func (w *Worker) fail(id, msg string) {
	now := time.Now().UTC()
	w.update(id, func(r *Record) {
		r.Status = StatusFailed
		r.Error = msg
		r.CompletedAt = &now
	})
}

func (w *Worker) update(id string, fn func(*Record)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		fn(record)
		record.UpdatedAt = time.Now().UTC()
	}
}

var csvHeader = []string{
	"item_id", "team_id", "name", "actual_name", "nsn", "serial_number",
	"is_kit", "parent", "status", "auth_quantity", "oh_quantity",
	"damage_reports", "notes", "updated_at",
}

func render(format Format, items []domain.Item) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		payload, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode json: %w", err)
		}
		return payload, "application/json", nil
	case FormatCSV:
		var buf bytes.Buffer
		cw := csv.NewWriter(&buf)
		if err := cw.Write(csvHeader); err != nil {
			return nil, "", err
		}
		for _, it := range items {
			parent := ""
			if it.Parent != nil {
				parent = *it.Parent
			}
			reports, err := json.Marshal(it.DamageReports)
			if err != nil {
				return nil, "", err
			}
			row := []string{
				it.ID, it.TeamID, it.Name, it.ActualName, it.NSN, it.SerialNumber,
				strconv.FormatBool(it.IsKit), parent, string(it.Status),
				strconv.Itoa(it.AuthQuantity), strconv.Itoa(it.OHQuantity),
				string(reports), it.Notes, it.UpdatedAt.Format(time.RFC3339),
			}
			if err := cw.Write(row); err != nil {
				return nil, "", err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported format %s", format)
	}
}
