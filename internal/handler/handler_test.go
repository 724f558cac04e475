package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"evdetect/internal/auth"
	"evdetect/internal/config"
	"evdetect/internal/dto"
	"evdetect/internal/logger"
	"evdetect/internal/model"
	"evdetect/internal/repository/sqlite"
	"evdetect/internal/service/preemption"
)

// ========================================
// Helpers
// ========================================

type memorySink struct {
	mu     sync.Mutex
	frames map[string]int
}

func (s *memorySink) HandleCameraImage(_ []byte, camera string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = make(map[string]int)
	}
	s.frames[camera]++
}

func jpeg(payload string) []byte {
	return append(append([]byte{0xFF, 0xD8}, payload...), 0xFF, 0xD9)
}

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// ========================================
// Ingest
// ========================================

func TestFrameAssembler(t *testing.T) {
	a := newFrameAssembler()
	frame := jpeg("hello-world")

	if got := a.Push("cam", frame[:5]); got != nil {
		t.Fatal("Partial frame returned")
	}
	got := a.Push("cam", frame[5:])
	if !bytes.Equal(got, frame) {
		t.Errorf("Expected reassembled frame %v, got %v", frame, got)
	}

	// a continuation without a start is dropped
	if got := a.Push("cam", []byte("orphan\xFF\xD9")); got != nil {
		t.Errorf("Orphan datagram produced a frame: %v", got)
	}

	// a new SOI discards the unfinished frame
	a.Push("cam", jpeg("first")[:4])
	if got := a.Push("cam", jpeg("second")); !bytes.Equal(got, jpeg("second")) {
		t.Errorf("Expected second frame, got %v", got)
	}
}

func TestUploadHandler(t *testing.T) {
	sink := &memorySink{}
	h := UploadHandler(sink, logger.NewNop())

	tests := []struct {
		name   string
		camera string
		body   []byte
		want   int
	}{
		{"accepted", "gate-1", jpeg("x"), http.StatusAccepted},
		{"missing camera", "", jpeg("x"), http.StatusBadRequest},
		{"bad camera", "../etc", jpeg("x"), http.StatusBadRequest},
		{"not a jpeg", "gate-1", []byte("PNG"), http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/upload?camera="+url.QueryEscape(tt.camera), bytes.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if sink.frames["gate-1"] != 1 {
		t.Errorf("Expected exactly one accepted frame, got %v", sink.frames)
	}
}

// ========================================
// Signals
// ========================================

func newController(ids ...string) *preemption.Controller {
	return preemption.NewController(preemption.Options{Intersections: ids, HoldDuration: time.Minute}, nil, nil, nil, nil, logger.NewNop())
}

func TestTriggerAndResetSignalHandlers(t *testing.T) {
	ctrl := newController("main-5th")
	defer ctrl.Shutdown(context.Background())

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/signals/main-5th/trigger", nil), "id", "main-5th")
	rec := httptest.NewRecorder()
	TriggerSignalHandler(ctrl, logger.NewNop()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp signalResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if !resp.Changed || resp.Intersection.Signal != "GREEN" || resp.Intersection.TriggeredBy != "operator" {
		t.Errorf("Unexpected trigger response: %+v", resp)
	}

	req = withURLParam(httptest.NewRequest(http.MethodPost, "/api/signals/main-5th/reset", nil), "id", "main-5th")
	rec = httptest.NewRecorder()
	ResetSignalHandler(ctrl, logger.NewNop()).ServeHTTP(rec, req)

	resp = signalResponse{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Changed || resp.Intersection.Signal != "RED" {
		t.Errorf("Unexpected reset response: %+v", resp)
	}
}

func TestSignalHandlers_UnknownIntersection(t *testing.T) {
	ctrl := newController("main-5th")

	for name, h := range map[string]http.HandlerFunc{
		"get":     GetSignalHandler(ctrl, logger.NewNop()),
		"trigger": TriggerSignalHandler(ctrl, logger.NewNop()),
		"reset":   ResetSignalHandler(ctrl, logger.NewNop()),
	} {
		t.Run(name, func(t *testing.T) {
			req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "id", "nowhere")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusNotFound {
				t.Errorf("Expected 404, got %d", rec.Code)
			}
		})
	}
}

type failingController struct {
	*preemption.Controller
}

func (c failingController) Trigger(ctx context.Context, id, source string) (bool, error) {
	ok, _ := c.Controller.Trigger(ctx, id, source)
	return ok, errors.New("bus down")
}

func TestTriggerSignalHandler_PublishFailureStillReportsState(t *testing.T) {
	ctrl := failingController{newController("x")}

	req := withURLParam(httptest.NewRequest(http.MethodPost, "/", nil), "id", "x")
	rec := httptest.NewRecorder()
	TriggerSignalHandler(ctrl, logger.NewNop()).ServeHTTP(rec, req)

	var resp signalResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if rec.Code != http.StatusOK || resp.PublishError != "bus down" || resp.Intersection.Signal != "GREEN" {
		t.Errorf("Unexpected response %d: %+v", rec.Code, resp)
	}
}

// ========================================
// Events and snapshots
// ========================================

func TestEventsHandler(t *testing.T) {
	db := setupTestDB(t)
	repo := sqlite.NewSignalEventRepository(db)

	base := time.Now().Add(-time.Hour)
	for i, st := range []model.SignalState{model.SignalGreen, model.SignalRed, model.SignalGreen} {
		err := repo.Insert(&model.SignalEvent{
			ID: "e" + string(rune('0'+i)), Intersection: "main-5th", State: st,
			Reason: model.ReasonDetection, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	h := EventsHandler(logger.NewNop(), repo)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?state=green&limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var data dto.EventsData
	if err := json.NewDecoder(rec.Body).Decode(&data); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if data.Length != 2 || data.TotalPages != 2 || len(data.Events) != 1 {
		t.Errorf("Unexpected paging: %+v", data)
	}
	if data.Events[0].ID != "e2" {
		t.Errorf("Expected newest event first, got %s", data.Events[0].ID)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?state=yellow", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown state, got %d", rec.Code)
	}
}

func TestPaging(t *testing.T) {
	tests := []struct {
		query                     string
		wantPage, wantLimit, want int
	}{
		{"", 1, 24, 0},
		{"page=3&limit=10", 3, 10, 20},
		{"page=-2&limit=0", 1, 24, 0},
		{"page=2&limit=100000", 2, maxPageSize, maxPageSize},
		{"page=9223372036854775807&limit=500", maxPage, maxPageSize, (maxPage - 1) * maxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			page, limit, offset := paging(httptest.NewRequest(http.MethodGet, "/api/snapshots?"+tt.query, nil), 24)
			if page != tt.wantPage || limit != tt.wantLimit || offset != tt.want {
				t.Errorf("Expected %d/%d/%d, got %d/%d/%d", tt.wantPage, tt.wantLimit, tt.want, page, limit, offset)
			}
			if offset < 0 {
				t.Errorf("Negative offset %d", offset)
			}
		})
	}
}

func TestSnapshotHandlers(t *testing.T) {
	db := setupTestDB(t)
	snapshots := sqlite.NewSnapshotRepository(db)
	detections := sqlite.NewDetectionRepository(db)
	cfg := &config.Config{ImageDirectory: t.TempDir()}

	name := "2024-05-01_08-30-00.000_north_ambulance.jpg"
	if err := os.WriteFile(filepath.Join(cfg.ImageDirectory, name), jpeg("img"), 0644); err != nil {
		t.Fatal(err)
	}
	taken := time.Date(2024, 5, 1, 8, 30, 0, 0, time.Local)
	id, err := snapshots.Insert(&model.Snapshot{Filename: name, Camera: "north", Intersection: "main-5th", Timestamp: taken, FileSize: 5})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := detections.InsertBatch([]model.Detection{{SnapshotID: id, Label: "ambulance", Confidence: 0.9}}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	rec := httptest.NewRecorder()
	GetSnapshotsHandler(cfg, logger.NewNop(), snapshots, detections).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots?camera=north", nil))
	// date and timeOfDay are written as display strings
	var data struct {
		Snapshots []struct {
			Name      string   `json:"name"`
			Date      string   `json:"date"`
			TimeOfDay string   `json:"timeOfDay"`
			Camera    string   `json:"camera"`
			Labels    []string `json:"labels"`
		} `json:"snapshots"`
		Length int `json:"length"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&data); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if data.Length != 1 || len(data.Snapshots) != 1 {
		t.Fatalf("Unexpected gallery: %+v", data)
	}
	got := data.Snapshots[0]
	if got.Name != name || got.Camera != "north" || len(got.Labels) != 1 || got.Labels[0] != "ambulance" {
		t.Errorf("Unexpected snapshot: %+v", got)
	}
	if got.Date != "01-05-2024" || got.TimeOfDay != "08:30" {
		t.Errorf("Unexpected date fields: %s %s", got.Date, got.TimeOfDay)
	}

	rec = httptest.NewRecorder()
	ViewSnapshotHandler(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshots/view?image=..%2Fsecret", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Traversal must be rejected, got %d", rec.Code)
	}

	del := DeleteSnapshotHandler(cfg, logger.NewNop(), snapshots)
	rec = httptest.NewRecorder()
	del.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/snapshots?filename="+name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if _, err := os.Stat(filepath.Join(cfg.ImageDirectory, name)); !os.IsNotExist(err) {
		t.Error("File should be removed")
	}

	rec = httptest.NewRecorder()
	del.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/snapshots?filename="+name, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}
}

// ========================================
// Logs and login
// ========================================

func TestLogsHandlers(t *testing.T) {
	log, err := logger.New(t.TempDir(), "info")
	if err != nil {
		t.Fatalf("logger.New failed: %v", err)
	}
	defer log.Close()
	log.Warning("disk almost full")
	log.Zap().Sync()

	rec := httptest.NewRecorder()
	ShowLogsHandler(log).ServeHTTP(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/logs/warning", nil), "level", "warning"))
	if !strings.Contains(rec.Body.String(), "disk almost full") {
		t.Errorf("Expected warning entry, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ClearLogsHandler(log).ServeHTTP(rec, withURLParam(httptest.NewRequest(http.MethodPost, "/logs/warning/clear", nil), "level", "warning"))
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	ShowLogsHandler(log).ServeHTTP(rec, withURLParam(httptest.NewRequest(http.MethodGet, "/logs/debug", nil), "level", "debug"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown level, got %d", rec.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	sessions := auth.NewSessions(&config.Config{Password: "pw", SessionSecret: "s", SessionTTL: time.Hour})
	h := LoginHandler(sessions, logger.NewNop())

	post := func(password string) *httptest.ResponseRecorder {
		form := url.Values{"password": {password}}
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := post("wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}

	rec := post("pw")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("Expected redirect, got %d", rec.Code)
	}
	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			session = c
		}
	}
	if session == nil || !session.HttpOnly {
		t.Fatal("Expected HttpOnly session cookie")
	}
	if err := sessions.Validate(session.Value); err != nil {
		t.Errorf("Issued cookie does not validate: %v", err)
	}
}

func TestIsValidFilename(t *testing.T) {
	for name, want := range map[string]bool{
		"2024-05-01_08-30-00.000_north_ambulance.jpg": true,
		"":              false,
		"..":            false,
		"../x.jpg":      false,
		`a\b.jpg`:       false,
		"sub/x.jpg":     false,
		"x..jpg":        false,
	} {
		if got := isValidFilename(name); got != want {
			t.Errorf("isValidFilename(%q) = %v, want %v", name, got, want)
		}
	}
}
