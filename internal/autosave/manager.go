package autosave

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/backend/internal/drafts"
)

// ErrNoSession indicates a mutation arrived for a draft with no open session.
var ErrNoSession = errors.New("autosave: no open session for draft")

// ManagerConfig carries the shared dependencies for all autosave sessions.
type ManagerConfig struct {
	Saver        Saver
	Quiescence   time.Duration
	SaveTimeout  time.Duration
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// Manager owns at most one Pipeline per (author, draft) pair. The HTTP layer
// opens a session when the editor attaches, feeds mutations through it, and
// closes it when the editor detaches.
type Manager struct {
	config ManagerConfig

	mu        sync.Mutex
	pipelines map[sessionKey]*Pipeline
}

type sessionKey struct {
	authorID drafts.AuthorID
	draftID  drafts.DraftID
}

// NewManager validates the configuration and returns an empty session table.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Saver == nil {
		return nil, errMissingSaver
	}
	return &Manager{
		config:    config,
		pipelines: make(map[sessionKey]*Pipeline),
	}, nil
}

// Open returns the session for the pair, starting one when none exists.
func (m *Manager) Open(authorID drafts.AuthorID, draftID drafts.DraftID) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey{authorID: authorID, draftID: draftID}
	if existing, ok := m.pipelines[key]; ok {
		return existing, nil
	}
	pipeline, err := NewPipeline(PipelineConfig{
		AuthorID:     authorID,
		DraftID:      draftID,
		Saver:        m.config.Saver,
		Quiescence:   m.config.Quiescence,
		SaveTimeout:  m.config.SaveTimeout,
		RetryBackoff: m.config.RetryBackoff,
		Logger:       m.config.Logger,
	})
	if err != nil {
		return nil, err
	}
	m.pipelines[key] = pipeline
	return pipeline, nil
}

// Observe routes one mutation to the open session for the pair.
func (m *Manager) Observe(authorID drafts.AuthorID, draftID drafts.DraftID, mutation Mutation) error {
	m.mu.Lock()
	pipeline, ok := m.pipelines[sessionKey{authorID: authorID, draftID: draftID}]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	if !pipeline.Observe(mutation) {
		return ErrNoSession
	}
	return nil
}

// Close tears down the session for the pair, waiting for any in-flight save.
// It reports whether a session existed.
func (m *Manager) Close(authorID drafts.AuthorID, draftID drafts.DraftID) bool {
	key := sessionKey{authorID: authorID, draftID: draftID}
	m.mu.Lock()
	pipeline, ok := m.pipelines[key]
	delete(m.pipelines, key)
	m.mu.Unlock()
	if !ok {
		return false
	}
	pipeline.Close()
	return true
}

// CloseAll tears down every open session. Used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(m.pipelines))
	for key, pipeline := range m.pipelines {
		pipelines = append(pipelines, pipeline)
		delete(m.pipelines, key)
	}
	m.mu.Unlock()
	for _, pipeline := range pipelines {
		pipeline.Close()
	}
}
