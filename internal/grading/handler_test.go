package grading_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/JaimeStill/marker/internal/events"
	"github.com/JaimeStill/marker/internal/grading"
	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/pkg/cache"
)

func setupMux(h *grading.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	group := h.Routes()
	for _, route := range group.Routes {
		mux.HandleFunc(route.Method+" "+group.Prefix+route.Pattern, route.Handler)
	}
	return mux
}

func multipartPages(t *testing.T, files ...[]byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, data := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="pages"; filename="page.png"`)
		hdr.Set("Content-Type", "image/png")
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write(data)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &body, w.FormDataContentType()
}

func TestHandlerSubmit(t *testing.T) {
	e := newEnv(t, options{})
	log := events.NewLog(cache.NewFromClient(e.client, "marker", discard), time.Hour, discard)
	mux := setupMux(e.svc.Handler(log))

	t.Run("accepts page images", func(t *testing.T) {
		body, contentType := multipartPages(t, pngBytes(t), pngBytes(t))
		req := httptest.NewRequest("POST", "/jobs", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
		}
		var job jobs.Job
		if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if job.TotalPages != 2 || job.Status != jobs.StatusRunning {
			t.Errorf("job = %+v", job)
		}
	})

	t.Run("rejects unreadable image", func(t *testing.T) {
		body, contentType := multipartPages(t, []byte("junk"))
		req := httptest.NewRequest("POST", "/jobs", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rejects missing pages field", func(t *testing.T) {
		body, contentType := multipartPages(t)
		req := httptest.NewRequest("POST", "/jobs", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandlerRetry(t *testing.T) {
	e := newEnv(t, options{})
	log := events.NewLog(cache.NewFromClient(e.client, "marker", discard), time.Hour, discard)
	mux := setupMux(e.svc.Handler(log))
	job, _ := e.submit(t, 1)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"valid page", "/jobs/" + job.ID.String() + "/pages/0/retry", http.StatusAccepted},
		{"page out of range", "/jobs/" + job.ID.String() + "/pages/5/retry", http.StatusBadRequest},
		{"non-numeric page", "/jobs/" + job.ID.String() + "/pages/x/retry", http.StatusBadRequest},
		{"unknown job", "/jobs/00000000-0000-0000-0000-000000000001/pages/0/retry", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("POST", tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestHandlerEvents(t *testing.T) {
	e := newEnv(t, options{})
	log := events.NewLog(cache.NewFromClient(e.client, "marker", discard), time.Hour, discard)
	mux := setupMux(e.svc.Handler(log))
	job, _ := e.submit(t, 1)

	ctx := context.Background()
	for _, typ := range []events.Type{events.TypePlanStart, events.TypeToolCall, events.TypeToolDone} {
		log.Emit(ctx, events.Event{JobID: job.ID.String(), Type: typ, Iteration: 1, Status: events.StatusRunning})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/"+job.ID.String()+"/events?after=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var got []events.Event
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 2 || got[0].Type != events.TypeToolCall {
		t.Errorf("events = %+v", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/jobs/"+job.ID.String()+"/events?after=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d, want 400", rec.Code)
	}
}
