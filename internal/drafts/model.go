package drafts

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDraftID indicates that a draft identifier is empty or exceeds storage bounds.
	ErrInvalidDraftID = errors.New("drafts: invalid draft id")
	// ErrInvalidAuthorID indicates that an author identifier is empty or exceeds storage bounds.
	ErrInvalidAuthorID = errors.New("drafts: invalid author id")
	// ErrDraftNotFound indicates that no draft exists for the requested identifier.
	ErrDraftNotFound = errors.New("drafts: draft not found")
	// ErrForbidden indicates that the caller does not own the requested draft.
	ErrForbidden = errors.New("drafts: forbidden")
	// ErrDraftCollaborative indicates a solo-mode write against a collaborative draft.
	ErrDraftCollaborative = errors.New("drafts: draft is collaborative")
	// ErrTransientStoreFailure marks storage errors that are safe to retry.
	ErrTransientStoreFailure = errors.New("drafts: transient store failure")
)

// DraftID represents a validated draft identifier.
type DraftID string

// NewDraftID validates raw input and returns a DraftID.
func NewDraftID(rawInput string) (DraftID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDraftID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDraftID, maxIdentifierLength)
	}
	return DraftID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DraftID) String() string {
	return string(id)
}

// AuthorID represents a validated author identifier.
type AuthorID string

// NewAuthorID validates raw input and returns an AuthorID.
func NewAuthorID(rawInput string) (AuthorID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAuthorID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAuthorID, maxIdentifierLength)
	}
	return AuthorID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AuthorID) String() string {
	return string(id)
}

// Draft models the persisted unit of authorship. While the draft is solo the
// content columns are authoritative and the CRDT column is empty; once the
// collaborative flag flips the CRDT column becomes authoritative and the
// content columns are a cached projection.
type Draft struct {
	DraftID            string `gorm:"column:draft_id;primaryKey;size:190;not null"`
	AuthorID           string `gorm:"column:author_id;size:190;not null;index:idx_drafts_author_updated,priority:1"`
	ContentJSON        string `gorm:"column:content_json;type:text;not null;default:''"`
	ContentFingerprint string `gorm:"column:content_fingerprint;size:64;not null;default:''"`
	CrdtStateHex       string `gorm:"column:crdt_state_hex;type:text;not null;default:''"`
	IsCollaborative    bool   `gorm:"column:is_collaborative;not null;default:false"`
	Title              string `gorm:"column:title;size:512;not null;default:''"`
	Subtitle           string `gorm:"column:subtitle;size:1024;not null;default:''"`
	CoverSource        string `gorm:"column:cover_source;size:1024;not null;default:''"`
	PublishedRef       string `gorm:"column:published_ref;size:190;not null;default:''"`
	CreatedAtSeconds   int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds   int64  `gorm:"column:updated_at_s;not null;index:idx_drafts_author_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Draft) TableName() string {
	return "drafts"
}
