package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/backend/internal/auth"
	"github.com/plumeworks/plume/backend/internal/autosave"
	"github.com/plumeworks/plume/backend/internal/content"
	"github.com/plumeworks/plume/backend/internal/crdt"
	"github.com/plumeworks/plume/backend/internal/drafts"
	"github.com/plumeworks/plume/backend/internal/relay"
)

const authorIDContextKey = "plume_author_id"

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingDraftsService    = errors.New("drafts service dependency required")
	errMissingAutosaveManager  = errors.New("autosave manager dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier validates an upstream identity assertion and returns the
// claims to mint an access token for.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.AuthorClaims, error)
}

// TokenManager issues and validates the backend access tokens.
type TokenManager interface {
	IssueAuthorToken(ctx context.Context, claims auth.AuthorClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityResolver maps verified claims onto a canonical author id.
type IdentityResolver interface {
	ResolveCanonicalAuthorID(claims auth.AuthorClaims) (string, error)
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     TokenManager
	Identities       IdentityResolver
	DraftsService    *drafts.Service
	Autosave         *autosave.Manager
	Relay            *relay.Dispatcher
	Logger           *zap.Logger
}

// NewHTTPHandler assembles the gin router for the drafts API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.DraftsService == nil {
		return nil, errMissingDraftsService
	}
	if deps.Autosave == nil {
		return nil, errMissingAutosaveManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:      deps.IdentityVerifier,
		tokens:        deps.TokenManager,
		identities:    deps.Identities,
		draftsService: deps.DraftsService,
		autosave:      deps.Autosave,
		relay:         deps.Relay,
		logger:        logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/drafts", handler.handleCreateDraft)
	protected.GET("/drafts", handler.handleListDrafts)
	protected.GET("/drafts/stream", handler.handleEventStream)
	protected.GET("/drafts/:draftID", handler.handleGetDraft)
	protected.DELETE("/drafts/:draftID", handler.handleDeleteDraft)
	protected.POST("/drafts/:draftID/autosave", handler.handleAutosaveWrite)
	protected.POST("/drafts/:draftID/collaboration", handler.handleEnableCollaboration)
	protected.POST("/drafts/:draftID/session", handler.handleOpenSession)
	protected.DELETE("/drafts/:draftID/session", handler.handleCloseSession)
	protected.POST("/drafts/:draftID/session/mutations", handler.handleSessionMutation)

	return router, nil
}

type httpHandler struct {
	verifier      IdentityVerifier
	tokens        TokenManager
	identities    IdentityResolver
	draftsService *drafts.Service
	autosave      *autosave.Manager
	relay         *relay.Dispatcher
	logger        *zap.Logger
}

type tokenRequestPayload struct {
	IDToken string `json:"id_token"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.identities != nil {
		canonicalID, resolveErr := h.identities.ResolveCanonicalAuthorID(claims)
		if resolveErr != nil {
			h.logger.Error("failed to resolve canonical author", zap.Error(resolveErr))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
			return
		}
		claims.Subject = canonicalID
	}

	token, expiresIn, err := h.tokens.IssueAuthorToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type draftSummaryPayload struct {
	DraftID          string `json:"draft_id"`
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	CoverSource      string `json:"cover_source,omitempty"`
	IsCollaborative  bool   `json:"is_collaborative"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type draftViewPayload struct {
	draftSummaryPayload
	Content    content.Tree `json:"content"`
	HasContent bool         `json:"has_content"`
}

func summarizeDraft(draft drafts.Draft) draftSummaryPayload {
	return draftSummaryPayload{
		DraftID:          draft.DraftID,
		Title:            draft.Title,
		Subtitle:         draft.Subtitle,
		CoverSource:      draft.CoverSource,
		IsCollaborative:  draft.IsCollaborative,
		CreatedAtSeconds: draft.CreatedAtSeconds,
		UpdatedAtSeconds: draft.UpdatedAtSeconds,
	}
}

func (h *httpHandler) handleCreateDraft(c *gin.Context) {
	authorID, ok := h.requestAuthor(c)
	if !ok {
		return
	}
	draft, err := h.draftsService.CreateDraft(c.Request.Context(), authorID)
	if err != nil {
		h.respondServiceError(c, "failed to create draft", err)
		return
	}
	c.JSON(http.StatusCreated, summarizeDraft(draft))
}

func (h *httpHandler) handleListDrafts(c *gin.Context) {
	authorID, ok := h.requestAuthor(c)
	if !ok {
		return
	}
	results, err := h.draftsService.ListDrafts(c.Request.Context(), authorID)
	if err != nil {
		h.respondServiceError(c, "failed to list drafts", err)
		return
	}
	payload := make([]draftSummaryPayload, 0, len(results))
	for _, draft := range results {
		payload = append(payload, summarizeDraft(draft))
	}
	c.JSON(http.StatusOK, gin.H{"drafts": payload})
}

func (h *httpHandler) handleGetDraft(c *gin.Context) {
	authorID, draftID, ok := h.requestAuthorAndDraft(c)
	if !ok {
		return
	}
	view, err := h.draftsService.GetDraft(c.Request.Context(), authorID, draftID)
	if err != nil {
		h.respondServiceError(c, "failed to load draft", err)
		return
	}
	c.JSON(http.StatusOK, draftViewPayload{
		draftSummaryPayload: summarizeDraft(view.Draft),
		Content:             view.Tree,
		HasContent:          view.HasContent,
	})
}

func (h *httpHandler) handleDeleteDraft(c *gin.Context) {
	authorID, draftID, ok := h.requestAuthorAndDraft(c)
	if !ok {
		return
	}
	h.autosave.Close(authorID, draftID)
	if err := h.draftsService.DeleteDraft(c.Request.Context(), authorID, draftID); err != nil {
		h.respondServiceError(c, "failed to delete draft", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type autosaveRequestPayload struct {
	Content content.Tree `json:"content"`
}

type autosaveResponsePayload struct {
	Saved            bool   `json:"saved"`
	Fingerprint      string `json:"fingerprint"`
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	CoverSource      string `json:"cover_source,omitempty"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func (h *httpHandler) handleAutosaveWrite(c *gin.Context) {
	authorID, draftID, ok := h.requestAuthorAndDraft(c)
	if !ok {
		return
	}
	var request autosaveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_content"})
		return
	}

	outcome, err := h.draftsService.SaveSnapshot(c.Request.Context(), drafts.SnapshotRequest{
		AuthorID: authorID,
		DraftID:  draftID,
		Tree:     request.Content,
	})
	if err != nil {
		h.respondServiceError(c, "failed to save snapshot", err)
		return
	}

	if outcome.Saved && h.relay != nil {
		h.relay.Publish(relay.Event{
			AuthorID:  authorID.String(),
			EventType: relay.EventDraftSaved,
			DraftID:   draftID.String(),
			Timestamp: time.Now().UTC(),
		})
	}

	c.JSON(http.StatusOK, autosaveResponsePayload{
		Saved:            outcome.Saved,
		Fingerprint:      outcome.Fingerprint,
		Title:            outcome.Metadata.Title,
		Subtitle:         outcome.Metadata.Subtitle,
		CoverSource:      outcome.Metadata.CoverSource,
		UpdatedAtSeconds: outcome.UpdatedAtSeconds,
	})
}

type collaborationResponsePayload struct {
	DraftID              string `json:"draft_id"`
	IsCollaborative      bool   `json:"is_collaborative"`
	AlreadyCollaborative bool   `json:"already_collaborative"`
	State                string `json:"state"`
}

func (h *httpHandler) handleEnableCollaboration(c *gin.Context) {
	authorID, draftID, ok := h.requestAuthorAndDraft(c)
	if !ok {
		return
	}

	outcome, err := h.draftsService.EnableCollaboration(c.Request.Context(), authorID, draftID)
	if err != nil {
		h.respondServiceError(c, "failed to enable collaboration", err)
		return
	}

	// Autosave stops owning the draft the moment the flag flips.
	h.autosave.Close(authorID, draftID)

	if !outcome.AlreadyCollaborative && h.relay != nil {
		h.relay.Publish(relay.Event{
			AuthorID:    authorID.String(),
			EventType:   relay.EventCollaborationEnabled,
			DraftID:     draftID.String(),
			StoredState: outcome.StoredState,
			Timestamp:   time.Now().UTC(),
		})
	}

	c.JSON(http.StatusOK, collaborationResponsePayload{
		DraftID:              outcome.DraftID.String(),
		IsCollaborative:      outcome.IsCollaborative,
		AlreadyCollaborative: outcome.AlreadyCollaborative,
		State:                outcome.StoredState,
	})
}

func (h *httpHandler) handleOpenSession(c *gin.Context) {
	authorID, draftID, ok := h.requestAuthorAndDraft(c)
	if !ok {
		return
	}
	if _, err := h.autosave.Open(authorID, draftID); err != nil {
		h.logger.Error("failed to open autosave session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_open_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCloseSession(c *gin.Context) {
	authorID, draftID, ok := h.requestAuthorAndDraft(c)
	if !ok {
		return
	}
	if !h.autosave.Close(authorID, draftID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSessionMutation(c *gin.Context) {
	authorID, draftID, ok := h.requestAuthorAndDraft(c)
	if !ok {
		return
	}
	var request autosaveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_content"})
		return
	}
	err := h.autosave.Observe(authorID, draftID, autosave.Mutation{
		Tree:       request.Content,
		ObservedAt: time.Now().UTC(),
	})
	if errors.Is(err, autosave.ErrNoSession) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to route mutation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mutation_failed"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *httpHandler) requestAuthor(c *gin.Context) (drafts.AuthorID, bool) {
	subject := c.GetString(authorIDContextKey)
	authorID, err := drafts.NewAuthorID(subject)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return authorID, true
}

func (h *httpHandler) requestAuthorAndDraft(c *gin.Context) (drafts.AuthorID, drafts.DraftID, bool) {
	authorID, ok := h.requestAuthor(c)
	if !ok {
		return "", "", false
	}
	draftID, err := drafts.NewDraftID(c.Param("draftID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_draft_id"})
		return "", "", false
	}
	return authorID, draftID, true
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, drafts.ErrDraftNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "draft_not_found"})
	case errors.Is(err, drafts.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, drafts.ErrDraftCollaborative):
		c.JSON(http.StatusConflict, gin.H{"error": "draft_collaborative"})
	case errors.Is(err, content.ErrMalformedContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed_content"})
	case errors.Is(err, crdt.ErrCorruptState):
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt_state"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(authorIDContextKey, subject)
	c.Next()
}

// bearerToken accepts the Authorization header and, for EventSource clients
// that cannot set headers, the access_token query parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(c.Query("access_token"))
}
