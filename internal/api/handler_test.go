package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ticketcore/internal/blob"
	"ticketcore/internal/core"
	"ticketcore/internal/exports"
	"ticketcore/internal/infra/persistence/memory"
	"ticketcore/pkg/domain"
)

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	store := memory.NewStore(core.DefaultRulesEngine())
	t.Cleanup(func() { store.Close() })
	return NewHandler(core.NewService(store), opts...)
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTicket(t *testing.T, rec *httptest.ResponseRecorder) domain.Ticket {
	t.Helper()
	var ticket domain.Ticket
	if err := json.Unmarshal(rec.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode ticket: %v (body %s)", err, rec.Body.String())
	}
	return ticket
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rec.Body.String())
	}
	return envelope.Error.Code
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/tickets", map[string]any{
		"title":    "socket leak",
		"priority": "high",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeTicket(t, rec)
	if created.ID == "" || created.Status != domain.StatusOpen || created.Priority != domain.PriorityHigh {
		t.Fatalf("created: %+v", created)
	}

	rec = doJSON(t, h, http.MethodGet, "/tickets/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/tickets/"+created.ID, map[string]any{"status": "in_progress"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", rec.Code, rec.Body.String())
	}
	if decodeTicket(t, rec).Status != domain.StatusInProgress {
		t.Fatal("status not updated")
	}

	rec = doJSON(t, h, http.MethodPatch, "/tickets/"+created.ID, map[string]any{"status": "closed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d", rec.Code)
	}

	// closed -> in_progress skips reopened
	rec = doJSON(t, h, http.MethodPatch, "/tickets/"+created.ID, map[string]any{"status": "in_progress"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("illegal transition status = %d, body %s", rec.Code, rec.Body.String())
	}
	if code := decodeErrorCode(t, rec); code != CodeIllegalTransition {
		t.Fatalf("error code = %q", code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/tickets/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/tickets/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != CodeNotFound {
		t.Fatalf("error code = %q", code)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != CodeBadRequest {
		t.Fatalf("error code = %q", code)
	}

	rec = doJSON(t, h, http.MethodPost, "/tickets", map[string]any{"title": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty title status = %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != CodeValidationFailed {
		t.Fatalf("error code = %q", code)
	}

	rec = doJSON(t, h, http.MethodPost, "/tickets", map[string]any{"title": "x", "priority": "urgent"})
	if code := decodeErrorCode(t, rec); rec.Code != http.StatusBadRequest || code != CodeValidationFailed {
		t.Fatalf("bad priority: status %d code %q", rec.Code, code)
	}
}

func TestListFilterAndPagination(t *testing.T) {
	h := newTestHandler(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, h, http.MethodPost, "/tickets", map[string]any{
			"title":    fmt.Sprintf("ticket %d", i),
			"assignee": "ada",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: %d", i, rec.Code)
		}
	}
	rec := doJSON(t, h, http.MethodPost, "/tickets", map[string]any{"title": "other"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}

	var page domain.TicketPage
	rec = doJSON(t, h, http.MethodGet, "/tickets?assignee=ada&limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Tickets) != 3 || page.NextCursor == "" {
		t.Fatalf("first page: %d tickets, cursor %q", len(page.Tickets), page.NextCursor)
	}

	rec = doJSON(t, h, http.MethodGet, "/tickets?assignee=ada&limit=3&cursor="+page.NextCursor, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second page status = %d", rec.Code)
	}
	page = domain.TicketPage{}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Tickets) != 2 || page.NextCursor != "" {
		t.Fatalf("second page: %d tickets, cursor %q", len(page.Tickets), page.NextCursor)
	}

	rec = doJSON(t, h, http.MethodGet, "/tickets?limit=many", nil)
	if code := decodeErrorCode(t, rec); rec.Code != http.StatusBadRequest || code != CodeValidationFailed {
		t.Fatalf("bad limit: status %d code %q", rec.Code, code)
	}

	rec = doJSON(t, h, http.MethodGet, "/tickets?status=resolved", nil)
	if code := decodeErrorCode(t, rec); rec.Code != http.StatusBadRequest || code != CodeValidationFailed {
		t.Fatalf("bad status filter: status %d code %q", rec.Code, code)
	}

	rec = doJSON(t, h, http.MethodGet, "/tickets?cursor=!!", nil)
	if code := decodeErrorCode(t, rec); rec.Code != http.StatusBadRequest || code != CodeValidationFailed {
		t.Fatalf("bad cursor: status %d code %q", rec.Code, code)
	}
}

func TestMethodAndPathHandling(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPut, "/tickets", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("PUT /tickets status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/tickets/a/b", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("nested path status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rec.Code)
	}
	// exports endpoints absent unless wired
	rec = doJSON(t, h, http.MethodPost, "/exports", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unwired exports status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestExportEndpoints(t *testing.T) {
	store := memory.NewStore(core.DefaultRulesEngine())
	t.Cleanup(func() { store.Close() })
	service := core.NewService(store)

	blobStore := blob.NewMemory()
	worker := exports.NewWorker(service, blobStore, nil)
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })

	h := NewHandler(service, WithExports(worker))

	rec := doJSON(t, h, http.MethodPost, "/tickets", map[string]any{"title": "exportable"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/exports", map[string]any{"formats": []string{"json"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, body %s", rec.Code, rec.Body.String())
	}
	var record exports.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.ID == "" || record.Status != exports.StatusQueued {
		t.Fatalf("queued record: %+v", record)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = doJSON(t, h, http.MethodGet, "/exports/"+record.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("poll status = %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
			t.Fatalf("decode record: %v", err)
		}
		if record.Status == exports.StatusSucceeded {
			break
		}
		if record.Status == exports.StatusFailed {
			t.Fatalf("export failed: %s", record.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("export stuck in %s", record.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if record.TicketCount != 1 || len(record.Artifacts) != 1 {
		t.Fatalf("completed record: %+v", record)
	}

	rec = doJSON(t, h, http.MethodGet, "/exports/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown export status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/exports", map[string]any{"formats": []string{"xml"}})
	if code := decodeErrorCode(t, rec); rec.Code != http.StatusBadRequest || code != CodeValidationFailed {
		t.Fatalf("bad format: status %d code %q", rec.Code, code)
	}
}
