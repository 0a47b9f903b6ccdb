package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mdx-vision/mdx/internal/platform/auth"
)

func testHandlerServer(t *testing.T) (*echo.Echo, *Coordinator, *mockRepo) {
	t.Helper()

	coord, _, _ := testCoordinator(t, CoordinatorOptions{})
	repo := newMockRepo()

	e := echo.New()
	h := NewHandler(coord, repo)
	h.RegisterRoutes(e.Group("/api/v1"))

	return e, coord, repo
}

func doRequest(e *echo.Echo, method, target, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := req.Context()
	if user != "" {
		ctx = context.WithValue(ctx, auth.UserIDKey, user)
	}
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"physician"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestStartSession_Created(t *testing.T) {
	e, _, _ := testHandlerServer(t)

	rec := doRequest(e, http.MethodPost, "/api/v1/sessions", "dr-chen",
		`{"settings":{"transcription_enabled":true,"source_language":"es"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var sess Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.OwnerID != "dr-chen" {
		t.Errorf("expected owner dr-chen, got %s", sess.OwnerID)
	}
	if sess.State != StateActive {
		t.Errorf("expected active state, got %s", sess.State)
	}
	if sess.ChannelID == uuid.Nil {
		t.Error("expected an allocated channel id")
	}
	if sess.Settings.SourceLanguage != "es" {
		t.Errorf("expected source language es, got %s", sess.Settings.SourceLanguage)
	}
}

func TestStartSession_MissingIdentity(t *testing.T) {
	e, _, _ := testHandlerServer(t)

	rec := doRequest(e, http.MethodPost, "/api/v1/sessions", "", `{"settings":{}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPauseResumeEnd_Flow(t *testing.T) {
	e, coord, _ := testHandlerServer(t)

	sess, err := coord.Start(context.Background(), "dr-chen", nil, Settings{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	base := "/api/v1/sessions/" + sess.ID.String()

	rec := doRequest(e, http.MethodPost, base+"/pause", "dr-chen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(e, http.MethodPost, base+"/resume", "dr-chen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(e, http.MethodPost, base+"/end", "dr-chen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var ended Session
	if err := json.Unmarshal(rec.Body.Bytes(), &ended); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ended.State != StateEnded || ended.EndedAt == nil {
		t.Fatalf("expected ended session with timestamp, got %+v", ended)
	}
}

func TestTransition_ErrorMapping(t *testing.T) {
	e, coord, _ := testHandlerServer(t)

	sess, err := coord.Start(context.Background(), "dr-chen", nil, Settings{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	base := "/api/v1/sessions/" + sess.ID.String()

	// Non-owner is forbidden.
	rec := doRequest(e, http.MethodPost, base+"/pause", "dr-patel", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner pause: expected 403, got %d", rec.Code)
	}

	// Resume while active is an invalid transition.
	rec = doRequest(e, http.MethodPost, base+"/resume", "dr-chen", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("resume active: expected 409, got %d", rec.Code)
	}

	// Operations after end report gone.
	if _, err := coord.End(context.Background(), sess.ID, "dr-chen"); err != nil {
		t.Fatalf("end: %v", err)
	}
	rec = doRequest(e, http.MethodPost, base+"/pause", "dr-chen", "")
	if rec.Code != http.StatusGone {
		t.Fatalf("pause ended: expected 410, got %d", rec.Code)
	}

	// Unknown session is not found.
	rec = doRequest(e, http.MethodPost, "/api/v1/sessions/"+uuid.New().String()+"/end", "dr-chen", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", rec.Code)
	}
}

func TestGetSession_FallsBackToRepo(t *testing.T) {
	e, coord, repo := testHandlerServer(t)

	// A session the registry never saw but the recorder persisted.
	archived := &Session{
		ID:      uuid.New(),
		OwnerID: "dr-chen",
		State:   StateEnded,
	}
	if err := repo.Create(context.Background(), archived); err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	rec := doRequest(e, http.MethodGet, "/api/v1/sessions/"+archived.ID.String(), "dr-chen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from repo fallback, got %d", rec.Code)
	}

	// Live sessions come from the registry.
	live, err := coord.Start(context.Background(), "dr-chen", nil, Settings{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	rec = doRequest(e, http.MethodGet, "/api/v1/sessions/"+live.ID.String(), "dr-chen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for live session, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodGet, "/api/v1/sessions/"+uuid.New().String(), "dr-chen", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestListSessions_OwnerFilter(t *testing.T) {
	e, _, repo := testHandlerServer(t)

	for _, owner := range []string{"dr-chen", "dr-chen", "dr-patel"} {
		sess := &Session{ID: uuid.New(), OwnerID: owner, State: StateEnded}
		if err := repo.Create(context.Background(), sess); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := doRequest(e, http.MethodGet, "/api/v1/sessions?owner_id=dr-chen", "dr-chen", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 sessions for dr-chen, got %d", resp.Total)
	}
}
