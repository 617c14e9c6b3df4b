package drafts

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/plumeworks/plume/backend/internal/content"
)

func mustAuthorID(t *testing.T, value string) AuthorID {
	t.Helper()
	id, err := NewAuthorID(value)
	if err != nil {
		t.Fatalf("unexpected author id error: %v", err)
	}
	return id
}

func mustDraftID(t *testing.T, value string) DraftID {
	t.Helper()
	id, err := NewDraftID(value)
	if err != nil {
		t.Fatalf("unexpected draft id error: %v", err)
	}
	return id
}

func mustDraftService(t *testing.T) *Service {
	t.Helper()
	database, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.AutoMigrate(&Draft{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: database,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0).UTC()
		},
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func helloWorldTree() content.Tree {
	return content.NewTree([]content.Node{
		{Kind: content.NodeKindHeading, Level: 1, Spans: []content.Span{{Text: "Hello"}}},
		{Kind: content.NodeKindParagraph, Spans: []content.Span{{Text: "World"}}},
	})
}
