package drafts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/plumeworks/plume/backend/internal/content"
	"github.com/plumeworks/plume/backend/internal/crdt"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code for the error.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "drafts.service.new"
	opCreateDraft         = "drafts.create"
	opGetDraft            = "drafts.get"
	opListDrafts          = "drafts.list"
	opSaveSnapshot        = "drafts.save_snapshot"
	opDeleteDraft         = "drafts.delete"
	fieldAuthorID         = "author_id"
	fieldDraftID          = "draft_id"
	queryDraftID          = "draft_id = ?"
	queryAuthorID         = "author_id = ?"
	reasonMissingDatabase = "missing_database"
	reasonSelectFailed    = "draft_select_failed"
	reasonNotFound        = "draft_not_found"
	reasonForbidden       = "author_mismatch"
	reasonQueryFailed     = "query_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// markTransient brands a storage failure as retryable so autosave sessions can
// distinguish it from permanent rejections.
func markTransient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransientStoreFailure, err)
}

// IDProvider issues new draft identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the draft service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns draft persistence: solo snapshot saves, reads, and the one-way
// collaboration transition.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateDraft persists a new empty draft owned by the author.
func (s *Service) CreateDraft(ctx context.Context, authorID AuthorID) (Draft, error) {
	if s.db == nil {
		s.logError(opCreateDraft, reasonMissingDatabase, errMissingDatabase)
		return Draft{}, newServiceError(opCreateDraft, reasonMissingDatabase, errMissingDatabase)
	}

	draftID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateDraft, "id_generation_failed", err, zap.String(fieldAuthorID, authorID.String()))
		return Draft{}, newServiceError(opCreateDraft, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	draft := Draft{
		DraftID:          draftID,
		AuthorID:         authorID.String(),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&draft).Error; err != nil {
		s.logError(opCreateDraft, "draft_insert_failed", err, zap.String(fieldAuthorID, authorID.String()))
		return Draft{}, newServiceError(opCreateDraft, "draft_insert_failed", markTransient(err))
	}
	return draft, nil
}

// DraftView is the read model for a single draft. Tree holds the snapshot for
// solo drafts, or the projection extracted from CRDT state for collaborative
// ones; HasContent reports whether the draft was ever saved.
type DraftView struct {
	Draft      Draft
	Tree       content.Tree
	HasContent bool
}

// GetDraft loads a draft for the owning author. For a collaborative draft the
// stored CRDT state is decoded and projected; a decode failure is a hard read
// error, never a silently empty document.
func (s *Service) GetDraft(ctx context.Context, authorID AuthorID, draftID DraftID) (DraftView, error) {
	draft, err := s.loadOwnedDraft(s.db.WithContext(ctx), opGetDraft, authorID, draftID, false)
	if err != nil {
		return DraftView{}, err
	}

	view := DraftView{Draft: draft}
	if draft.IsCollaborative {
		state, decodeErr := crdt.DecodeStored(draft.CrdtStateHex)
		if decodeErr != nil {
			s.logError(opGetDraft, "state_decode_failed", decodeErr,
				zap.String(fieldAuthorID, authorID.String()),
				zap.String(fieldDraftID, draftID.String()))
			return DraftView{}, newServiceError(opGetDraft, "state_decode_failed", decodeErr)
		}
		projected, projectErr := crdt.ProjectContentTree(state)
		if projectErr != nil {
			s.logError(opGetDraft, "state_projection_failed", projectErr,
				zap.String(fieldAuthorID, authorID.String()),
				zap.String(fieldDraftID, draftID.String()))
			return DraftView{}, newServiceError(opGetDraft, "state_projection_failed", projectErr)
		}
		view.Tree = projected
		view.HasContent = true
		return view, nil
	}

	if draft.ContentJSON == "" {
		view.Tree = content.EmptyTree()
		return view, nil
	}
	tree, treeErr := content.DecodeTree(draft.ContentJSON)
	if treeErr != nil {
		s.logError(opGetDraft, "content_decode_failed", treeErr,
			zap.String(fieldAuthorID, authorID.String()),
			zap.String(fieldDraftID, draftID.String()))
		return DraftView{}, newServiceError(opGetDraft, "content_decode_failed", treeErr)
	}
	view.Tree = tree
	view.HasContent = true
	return view, nil
}

// ListDrafts returns the author's drafts, most recently updated first.
func (s *Service) ListDrafts(ctx context.Context, authorID AuthorID) ([]Draft, error) {
	if s.db == nil {
		s.logError(opListDrafts, reasonMissingDatabase, errMissingDatabase)
		return nil, newServiceError(opListDrafts, reasonMissingDatabase, errMissingDatabase)
	}

	var results []Draft
	if err := s.db.WithContext(ctx).
		Where(queryAuthorID, authorID.String()).
		Order("updated_at_s DESC").
		Find(&results).Error; err != nil {
		s.logError(opListDrafts, reasonQueryFailed, err, zap.String(fieldAuthorID, authorID.String()))
		return nil, newServiceError(opListDrafts, reasonQueryFailed, markTransient(err))
	}
	return results, nil
}

// SnapshotRequest describes a solo-mode autosave write.
type SnapshotRequest struct {
	AuthorID AuthorID
	DraftID  DraftID
	Tree     content.Tree
}

// SnapshotOutcome reports the result of a snapshot save. Saved is false when
// the content fingerprint matched the last persisted one and no write was
// issued.
type SnapshotOutcome struct {
	Saved            bool
	Fingerprint      string
	Metadata         content.Metadata
	UpdatedAtSeconds int64
}

// SaveSnapshot persists a content snapshot for a solo draft. Collaborative
// drafts reject the write outright: once the flag flips, mutation belongs to
// the realtime relay. Concurrent solo sessions are resolved last-write-wins at
// the row level; no merge is attempted in solo mode.
func (s *Service) SaveSnapshot(ctx context.Context, request SnapshotRequest) (SnapshotOutcome, error) {
	if s.db == nil {
		s.logError(opSaveSnapshot, reasonMissingDatabase, errMissingDatabase)
		return SnapshotOutcome{}, newServiceError(opSaveSnapshot, reasonMissingDatabase, errMissingDatabase)
	}

	if err := content.Validate(request.Tree); err != nil {
		s.logError(opSaveSnapshot, "content_invalid", err,
			zap.String(fieldAuthorID, request.AuthorID.String()),
			zap.String(fieldDraftID, request.DraftID.String()))
		return SnapshotOutcome{}, newServiceError(opSaveSnapshot, "content_invalid", err)
	}

	outcome := SnapshotOutcome{}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := s.loadOwnedDraft(tx, opSaveSnapshot, request.AuthorID, request.DraftID, true)
		if err != nil {
			return err
		}
		if draft.IsCollaborative {
			return newServiceError(opSaveSnapshot, "draft_collaborative", ErrDraftCollaborative)
		}

		fingerprint := content.Fingerprint(request.Tree)
		outcome.Fingerprint = fingerprint
		outcome.Metadata = content.DeriveMetadata(request.Tree)
		outcome.UpdatedAtSeconds = draft.UpdatedAtSeconds
		if fingerprint == draft.ContentFingerprint {
			return nil
		}

		encoded, encodeErr := content.EncodeTree(request.Tree)
		if encodeErr != nil {
			return newServiceError(opSaveSnapshot, "content_encode_failed", encodeErr)
		}

		now := s.clock().UTC().Unix()
		updates := map[string]interface{}{
			"content_json":        encoded,
			"content_fingerprint": fingerprint,
			"title":               outcome.Metadata.Title,
			"subtitle":            outcome.Metadata.Subtitle,
			"cover_source":        outcome.Metadata.CoverSource,
			"updated_at_s":        now,
		}
		if err := tx.Model(&Draft{}).Where(queryDraftID, request.DraftID.String()).Updates(updates).Error; err != nil {
			return newServiceError(opSaveSnapshot, "draft_update_failed", markTransient(err))
		}
		outcome.Saved = true
		outcome.UpdatedAtSeconds = now
		return nil
	})
	if txErr != nil {
		s.logError(opSaveSnapshot, "transaction_failed", txErr,
			zap.String(fieldAuthorID, request.AuthorID.String()),
			zap.String(fieldDraftID, request.DraftID.String()))
		return SnapshotOutcome{}, txErr
	}
	return outcome, nil
}

// DeleteDraft removes the draft outright; there are no tombstone semantics.
func (s *Service) DeleteDraft(ctx context.Context, authorID AuthorID, draftID DraftID) error {
	if s.db == nil {
		s.logError(opDeleteDraft, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(opDeleteDraft, reasonMissingDatabase, errMissingDatabase)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadOwnedDraft(tx, opDeleteDraft, authorID, draftID, true); err != nil {
			return err
		}
		if err := tx.Where(queryDraftID, draftID.String()).Delete(&Draft{}).Error; err != nil {
			s.logError(opDeleteDraft, "draft_delete_failed", err,
				zap.String(fieldAuthorID, authorID.String()),
				zap.String(fieldDraftID, draftID.String()))
			return newServiceError(opDeleteDraft, "draft_delete_failed", markTransient(err))
		}
		return nil
	})
}

func (s *Service) loadOwnedDraft(tx *gorm.DB, operation string, authorID AuthorID, draftID DraftID, forUpdate bool) (Draft, error) {
	query := tx
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var draft Draft
	err := query.Where(queryDraftID, draftID.String()).Take(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Draft{}, newServiceError(operation, reasonNotFound, ErrDraftNotFound)
	}
	if err != nil {
		s.logError(operation, reasonSelectFailed, err,
			zap.String(fieldAuthorID, authorID.String()),
			zap.String(fieldDraftID, draftID.String()))
		return Draft{}, newServiceError(operation, reasonSelectFailed, markTransient(err))
	}
	if draft.AuthorID != authorID.String() {
		return Draft{}, newServiceError(operation, reasonForbidden, ErrForbidden)
	}
	return draft, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("drafts service error", attrs...)
}
