// Package exports renders ticket snapshots to blob storage asynchronously.
package exports

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

	blobcore "ticketcore/internal/blob/core"
	"ticketcore/pkg/domain"
)

// Format identifies a rendering for an export artifact.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ValidFormat reports whether f is a supported export format.
func ValidFormat(f Format) bool {
	return f == FormatJSON || f == FormatCSV
}

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures one stored rendering of an export.
type Artifact struct {
	ID          string    `json:"id"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Key         string    `json:"key"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its resulting artifacts.
type Record struct {
	ID          string              `json:"id"`
	Filter      domain.TicketFilter `json:"filter"`
	Formats     []Format            `json:"formats"`
	Status      Status              `json:"status"`
	Error       string              `json:"error,omitempty"`
	Artifacts   []Artifact          `json:"artifacts,omitempty"`
	TicketCount int                 `json:"ticket_count"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

func (r Record) copy() Record {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

// Input represents an enqueue request for the worker.
type Input struct {
	Filter  domain.TicketFilter
	Formats []Format
}

// TicketLister is the slice of the ticket service the worker reads from.
type TicketLister interface {
	ListTickets(ctx context.Context, filter domain.TicketFilter, page domain.Page) (domain.TicketPage, error)
}

// Worker executes ticket exports asynchronously on a single goroutine.
type Worker struct {
	tickets TicketLister
	store   blobcore.Store
	logger  *slog.Logger

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs an export worker writing artifacts to store.
func NewWorker(tickets TicketLister, store blobcore.Store, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		tickets: tickets,
		store:   store,
		logger:  logger,
		queue:   make(chan string, 32),
		jobs:    make(map[string]*Record),
		ctx:     ctx,
		cancel:  cancel,
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
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue schedules an export and returns the queued record snapshot.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	if err := input.Filter.Validate(); err != nil {
		return Record{}, err
	}
	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		if !ValidFormat(format) {
			return Record{}, domain.ValidationError{Field: "formats", Reason: fmt.Sprintf("unsupported format %q", format)}
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	now := time.Now().UTC()
	record := Record{
		ID:        uuid.NewString(),
		Filter:    input.Filter,
		Formats:   uniq,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	snapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return Record{}, fmt.Errorf("export queue full")
	}

	w.logger.Info("export queued", "export_id", record.ID, "formats", len(uniq))
	return snapshot, nil
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

func (w *Worker) process(id string) {
	w.mu.RLock()
	record, ok := w.jobs[id]
	if !ok {
		w.mu.RUnlock()
		return
	}
	filter := record.Filter
	formats := append([]Format(nil), record.Formats...)
	w.mu.RUnlock()

	w.setStatus(id, StatusRunning, "")

	tickets, err := w.collect(filter)
	if err != nil {
		w.fail(id, fmt.Sprintf("list tickets: %v", err))
		return
	}

	artifacts := make([]Artifact, 0, len(formats))
	for _, format := range formats {
		artifact, payload, err := render(format, tickets)
		if err != nil {
			w.fail(id, err.Error())
			return
		}
		artifact.Key = fmt.Sprintf("exports/%s/%s.%s", id, artifact.ID, format)
		info, err := w.store.Put(w.ctx, artifact.Key, bytes.NewReader(payload), blobcore.PutOptions{
			ContentType: artifact.ContentType,
			Metadata:    map[string]string{"export_id": id, "tickets": strconv.Itoa(len(tickets))},
		})
		if err != nil {
			w.fail(id, fmt.Sprintf("store artifact: %v", err))
			return
		}
		if url, err := w.store.PresignURL(w.ctx, artifact.Key, 0); err == nil {
			artifact.URL = url
		}
		artifact.SizeBytes = info.Size
		artifacts = append(artifacts, artifact)
	}

	w.complete(id, artifacts, len(tickets))
	w.logger.Info("export completed", "export_id", id, "tickets", len(tickets), "artifacts", len(artifacts))
}

// collect pages through the full filtered ticket set.
func (w *Worker) collect(filter domain.TicketFilter) ([]domain.Ticket, error) {
	var all []domain.Ticket
	page := domain.Page{Limit: domain.MaxPageLimit}
	for {
		result, err := w.tickets.ListTickets(w.ctx, filter, page)
		if err != nil {
			return nil, err
		}
		all = append(all, result.Tickets...)
		if result.NextCursor == "" {
			return all, nil
		}
		page.Cursor = result.NextCursor
	}
}

func (w *Worker) setStatus(id string, status Status, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
}

func (w *Worker) complete(id string, artifacts []Artifact, count int) {
	now := time.Now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.TicketCount = count
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = StatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Error("export failed", "export_id", id, "reason", reason)
}

func render(format Format, tickets []domain.Ticket) (Artifact, []byte, error) {
	switch format {
	case FormatJSON:
		payload, err := json.Marshal(tickets)
		if err != nil {
			return Artifact{}, nil, fmt.Errorf("marshal json: %w", err)
		}
		return Artifact{
			ID:          uuid.NewString(),
			Format:      FormatJSON,
			ContentType: "application/json",
			SizeBytes:   int64(len(payload)),
			CreatedAt:   time.Now().UTC(),
		}, payload, nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		header := []string{"id", "title", "description", "status", "priority", "assignee", "created_at", "updated_at"}
		if err := writer.Write(header); err != nil {
			return Artifact{}, nil, err
		}
		for _, t := range tickets {
			assignee := ""
			if t.Assignee != nil {
				assignee = *t.Assignee
			}
			row := []string{
				t.ID,
				t.Title,
				t.Description,
				string(t.Status),
				string(t.Priority),
				assignee,
				t.CreatedAt.UTC().Format(time.RFC3339Nano),
				t.UpdatedAt.UTC().Format(time.RFC3339Nano),
			}
			if err := writer.Write(row); err != nil {
				return Artifact{}, nil, err
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return Artifact{}, nil, err
		}
		payload := buf.Bytes()
		return Artifact{
			ID:          uuid.NewString(),
			Format:      FormatCSV,
			ContentType: "text/csv",
			SizeBytes:   int64(len(payload)),
			CreatedAt:   time.Now().UTC(),
		}, payload, nil
	default:
		return Artifact{}, nil, domain.ValidationError{Field: "formats", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
}
