package exports_test

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"ticketcore/internal/blob"
	"ticketcore/internal/core"
	"ticketcore/internal/exports"
	"ticketcore/internal/infra/persistence/memory"
	"ticketcore/pkg/domain"
)

func newTestWorker(t *testing.T) (*exports.Worker, *core.Service, *blob.Memory) {
	t.Helper()
	store := memory.NewStore(core.DefaultRulesEngine())
	t.Cleanup(func() { store.Close() })
	service := core.NewService(store)
	blobStore := blob.NewMemory()
	worker := exports.NewWorker(service, blobStore, nil)
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })
	return worker, service, blobStore
}

func waitForExport(t *testing.T, worker *exports.Worker, id string) exports.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		record, ok := worker.Get(id)
		if !ok {
			t.Fatalf("export %s vanished", id)
		}
		switch record.Status {
		case exports.StatusSucceeded, exports.StatusFailed:
			return record
		}
		if time.Now().After(deadline) {
			t.Fatalf("export %s stuck in %s", id, record.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExportRendersBothFormats(t *testing.T) {
	worker, service, blobStore := newTestWorker(t)
	ctx := context.Background()

	ada := "ada"
	if _, err := service.CreateTicket(ctx, domain.Ticket{Title: "alpha", Assignee: &ada}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.CreateTicket(ctx, domain.Ticket{Title: "beta"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	queued, err := worker.Enqueue(ctx, exports.Input{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != exports.StatusQueued || len(queued.Formats) != 2 {
		t.Fatalf("queued record: %+v", queued)
	}

	record := waitForExport(t, worker, queued.ID)
	if record.Status != exports.StatusSucceeded {
		t.Fatalf("export failed: %s", record.Error)
	}
	if record.TicketCount != 2 || len(record.Artifacts) != 2 {
		t.Fatalf("completed record: %+v", record)
	}
	if record.CompletedAt == nil {
		t.Fatal("completed record must carry CompletedAt")
	}

	for _, artifact := range record.Artifacts {
		_, rc, err := blobStore.Get(ctx, artifact.Key)
		if err != nil {
			t.Fatalf("artifact %s missing from blob store: %v", artifact.Key, err)
		}
		payload, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read artifact: %v", err)
		}
		switch artifact.Format {
		case exports.FormatJSON:
			var tickets []domain.Ticket
			if err := json.Unmarshal(payload, &tickets); err != nil {
				t.Fatalf("json artifact: %v", err)
			}
			if len(tickets) != 2 {
				t.Fatalf("json rows = %d", len(tickets))
			}
		case exports.FormatCSV:
			lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
			if len(lines) != 3 { // header + 2 rows
				t.Fatalf("csv lines = %d: %q", len(lines), string(payload))
			}
			if !strings.HasPrefix(lines[0], "id,title,") {
				t.Fatalf("csv header = %q", lines[0])
			}
		default:
			t.Fatalf("unexpected format %s", artifact.Format)
		}
	}
}

func TestExportHonorsFilter(t *testing.T) {
	worker, service, _ := newTestWorker(t)
	ctx := context.Background()

	ada := "ada"
	if _, err := service.CreateTicket(ctx, domain.Ticket{Title: "mine", Assignee: &ada}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.CreateTicket(ctx, domain.Ticket{Title: "other"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	queued, err := worker.Enqueue(ctx, exports.Input{
		Filter:  domain.TicketFilter{Assignee: &ada},
		Formats: []exports.Format{exports.FormatJSON},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	record := waitForExport(t, worker, queued.ID)
	if record.Status != exports.StatusSucceeded {
		t.Fatalf("export failed: %s", record.Error)
	}
	if record.TicketCount != 1 {
		t.Fatalf("filtered count = %d", record.TicketCount)
	}
}

func TestEnqueueRejectsUnknownFormat(t *testing.T) {
	worker, _, _ := newTestWorker(t)

	_, err := worker.Enqueue(context.Background(), exports.Input{Formats: []exports.Format{"xml"}})
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestEnqueueRejectsBadFilter(t *testing.T) {
	worker, _, _ := newTestWorker(t)

	bad := domain.TicketStatus("archived")
	_, err := worker.Enqueue(context.Background(), exports.Input{Filter: domain.TicketFilter{Status: &bad}})
	if err == nil {
		t.Fatal("expected error for invalid filter")
	}
}

func TestGetUnknownExport(t *testing.T) {
	worker, _, _ := newTestWorker(t)
	if _, ok := worker.Get("nope"); ok {
		t.Fatal("unknown id must not resolve")
	}
}

func TestDuplicateFormatsCollapse(t *testing.T) {
	worker, _, _ := newTestWorker(t)

	queued, err := worker.Enqueue(context.Background(), exports.Input{
		Formats: []exports.Format{exports.FormatJSON, exports.FormatJSON},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(queued.Formats) != 1 {
		t.Fatalf("formats = %v", queued.Formats)
	}
}
