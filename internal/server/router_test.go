package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/plumeworks/plume/backend/internal/auth"
	"github.com/plumeworks/plume/backend/internal/autosave"
	"github.com/plumeworks/plume/backend/internal/drafts"
	"github.com/plumeworks/plume/backend/internal/relay"
	"github.com/plumeworks/plume/backend/internal/users"
)

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (auth.AuthorClaims, error) {
	if strings.TrimSpace(token) == "" {
		return auth.AuthorClaims{}, fmt.Errorf("empty identity token")
	}
	return auth.AuthorClaims{Subject: token}, nil
}

type testHarness struct {
	handler    http.Handler
	issuer     *auth.TokenIssuer
	dispatcher *relay.Dispatcher
	manager    *autosave.Manager
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&drafts.Draft{}, &users.Identity{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	draftsService, err := drafts.NewService(drafts.ServiceConfig{
		Database:   db,
		IDProvider: drafts.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct drafts service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "plume-auth",
		Audience:      "plume-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	identityService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct identity service: %v", err)
	}

	manager, err := autosave.NewManager(autosave.ManagerConfig{
		Saver:        draftsService,
		Quiescence:   20 * time.Millisecond,
		SaveTimeout:  time.Second,
		RetryBackoff: 20 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct autosave manager: %v", err)
	}
	t.Cleanup(manager.CloseAll)

	dispatcher := relay.NewDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		IdentityVerifier: stubVerifier{},
		TokenManager:     issuer,
		Identities:       identityService,
		DraftsService:    draftsService,
		Autosave:         manager,
		Relay:            dispatcher,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testHarness{
		handler:    handler,
		issuer:     issuer,
		dispatcher: dispatcher,
		manager:    manager,
	}
}

func (h *testHarness) token(t *testing.T, subject string) string {
	t.Helper()
	token, _, err := h.issuer.IssueAuthorToken(context.Background(), auth.AuthorClaims{Subject: subject})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (h *testHarness) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSONBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func (h *testHarness) createDraft(t *testing.T, token string) string {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/drafts", token, "")
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected created status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		DraftID string `json:"draft_id"`
	}
	decodeJSONBody(t, recorder, &payload)
	if payload.DraftID == "" {
		t.Fatal("expected a draft identifier in the response")
	}
	return payload.DraftID
}

const sampleContentBody = `{"content":{"schema_version":1,"nodes":[` +
	`{"kind":"heading","level":1,"spans":[{"text":"Hello"}]},` +
	`{"kind":"paragraph","spans":[{"text":"World"}]}]}}`
