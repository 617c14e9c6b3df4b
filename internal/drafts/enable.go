package drafts

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/plumeworks/plume/backend/internal/content"
	"github.com/plumeworks/plume/backend/internal/crdt"
)

const (
	opEnableCollaboration = "drafts.enable_collaboration"

	reasonContentDecodeFailed = "content_decode_failed"
	reasonStateBuildFailed    = "state_build_failed"
	reasonStateEncodeFailed   = "state_encode_failed"
	reasonFlagUpdateFailed    = "flag_update_failed"
	reasonReloadFailed        = "draft_reload_failed"
)

// EnableOutcome reports the result of the collaboration transition.
type EnableOutcome struct {
	DraftID              DraftID
	IsCollaborative      bool
	AlreadyCollaborative bool
	StoredState          string
}

// EnableCollaboration performs the one-shot Solo to Collaborative transition.
// The initial CRDT state is built deterministically from the last persisted
// snapshot (or the empty-document template when the draft was never saved),
// and the state write commits together with the flag flip. Invoking the
// transition on an already-collaborative draft is a benign no-op: the stored
// state is never rebuilt, so live collaborative edits are never discarded.
// Concurrent invocations are serialized by a row lock plus a compare-and-swap
// on the flag; only the first writer's state wins.
func (s *Service) EnableCollaboration(ctx context.Context, authorID AuthorID, draftID DraftID) (EnableOutcome, error) {
	if s.db == nil {
		s.logError(opEnableCollaboration, reasonMissingDatabase, errMissingDatabase)
		return EnableOutcome{}, newServiceError(opEnableCollaboration, reasonMissingDatabase, errMissingDatabase)
	}

	outcome := EnableOutcome{DraftID: draftID}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := s.loadOwnedDraft(tx, opEnableCollaboration, authorID, draftID, true)
		if err != nil {
			return err
		}
		if draft.IsCollaborative {
			outcome.IsCollaborative = true
			outcome.AlreadyCollaborative = true
			outcome.StoredState = draft.CrdtStateHex
			s.loggerOrDefault().Info("collaboration already enabled",
				zap.String(fieldAuthorID, authorID.String()),
				zap.String(fieldDraftID, draftID.String()))
			return nil
		}

		tree := content.EmptyTree()
		if draft.ContentJSON != "" {
			decoded, decodeErr := content.DecodeTree(draft.ContentJSON)
			if decodeErr != nil {
				s.logError(opEnableCollaboration, reasonContentDecodeFailed, decodeErr,
					zap.String(fieldDraftID, draftID.String()))
				return newServiceError(opEnableCollaboration, reasonContentDecodeFailed, decodeErr)
			}
			tree = decoded
		}

		state, buildErr := crdt.Build(draft.DraftID, tree)
		if buildErr != nil {
			s.logError(opEnableCollaboration, reasonStateBuildFailed, buildErr,
				zap.String(fieldDraftID, draftID.String()))
			return newServiceError(opEnableCollaboration, reasonStateBuildFailed, buildErr)
		}
		stored, encodeErr := crdt.EncodeStored(state)
		if encodeErr != nil {
			s.logError(opEnableCollaboration, reasonStateEncodeFailed, encodeErr,
				zap.String(fieldDraftID, draftID.String()))
			return newServiceError(opEnableCollaboration, reasonStateEncodeFailed, encodeErr)
		}

		// State and flag commit together; the map keeps the state column
		// ahead of the flag for backends that apply writes in order.
		now := s.clock().UTC().Unix()
		result := tx.Model(&Draft{}).
			Where("draft_id = ? AND is_collaborative = ?", draftID.String(), false).
			Updates(map[string]interface{}{
				"crdt_state_hex":   stored,
				"is_collaborative": true,
				"updated_at_s":     now,
			})
		if result.Error != nil {
			s.logError(opEnableCollaboration, reasonFlagUpdateFailed, result.Error,
				zap.String(fieldDraftID, draftID.String()))
			return newServiceError(opEnableCollaboration, reasonFlagUpdateFailed, markTransient(result.Error))
		}
		if result.RowsAffected == 0 {
			// Lost the race to a concurrent transition; the winner's state stands.
			var current Draft
			if reloadErr := tx.Where(queryDraftID, draftID.String()).Take(&current).Error; reloadErr != nil {
				s.logError(opEnableCollaboration, reasonReloadFailed, reloadErr,
					zap.String(fieldDraftID, draftID.String()))
				return newServiceError(opEnableCollaboration, reasonReloadFailed, markTransient(reloadErr))
			}
			outcome.IsCollaborative = current.IsCollaborative
			outcome.AlreadyCollaborative = true
			outcome.StoredState = current.CrdtStateHex
			return nil
		}

		outcome.IsCollaborative = true
		outcome.StoredState = stored
		s.loggerOrDefault().Info("collaboration enabled",
			zap.String(fieldAuthorID, authorID.String()),
			zap.String(fieldDraftID, draftID.String()))
		return nil
	})
	if txErr != nil {
		return EnableOutcome{}, txErr
	}
	return outcome, nil
}
