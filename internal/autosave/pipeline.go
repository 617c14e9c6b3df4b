package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/backend/internal/content"
	"github.com/plumeworks/plume/backend/internal/drafts"
)

// Phase is the autosave state machine position for one editing session.
type Phase string

const (
	// PhaseIdle means no unsaved mutation is pending.
	PhaseIdle Phase = "idle"
	// PhasePendingSave means the quiescence window elapsed and a save is due.
	PhasePendingSave Phase = "pending_save"
	// PhaseSaving means a save attempt is in flight.
	PhaseSaving Phase = "saving"
	// PhaseSaveFailed means the last attempt failed and a retry is scheduled.
	PhaseSaveFailed Phase = "save_failed"
)

const (
	defaultQuiescence   = 2 * time.Second
	defaultSaveTimeout  = 10 * time.Second
	defaultRetryBackoff = 5 * time.Second
)

var (
	errMissingSaver    = errors.New("autosave: saver is required")
	errMissingAuthorID = errors.New("autosave: author id is required")
	errMissingDraftID  = errors.New("autosave: draft id is required")
)

// Saver persists a solo draft snapshot. *drafts.Service satisfies it.
type Saver interface {
	SaveSnapshot(ctx context.Context, request drafts.SnapshotRequest) (drafts.SnapshotOutcome, error)
}

// Mutation is one timestamped content change from the editing surface.
type Mutation struct {
	Tree       content.Tree
	ObservedAt time.Time
}

// PipelineConfig describes one autosave session.
type PipelineConfig struct {
	AuthorID     drafts.AuthorID
	DraftID      drafts.DraftID
	Saver        Saver
	Quiescence   time.Duration
	SaveTimeout  time.Duration
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// Pipeline is the debounced, change-detecting, single-writer save loop for one
// open editing session on a solo draft. Mutations are coalesced: after a
// quiescence window with no further edits, the latest tree is attempted, and a
// failed attempt is retried on a bounded backoff or superseded by the next
// mutation. Attempts for a given draft are strictly ordered because a single
// goroutine performs them.
type Pipeline struct {
	authorID     drafts.AuthorID
	draftID      drafts.DraftID
	saver        Saver
	quiescence   time.Duration
	saveTimeout  time.Duration
	retryBackoff time.Duration
	logger       *zap.Logger

	notify    chan struct{}
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu                   sync.Mutex
	latest               *content.Tree
	phase                Phase
	halted               bool
	lastSavedFingerprint string
	writes               int
}

// NewPipeline validates the configuration and starts the session loop.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	if cfg.AuthorID == "" {
		return nil, errMissingAuthorID
	}
	if cfg.DraftID == "" {
		return nil, errMissingDraftID
	}

	quiescence := cfg.Quiescence
	if quiescence <= 0 {
		quiescence = defaultQuiescence
	}
	saveTimeout := cfg.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = defaultSaveTimeout
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pipeline := &Pipeline{
		authorID:     cfg.AuthorID,
		draftID:      cfg.DraftID,
		saver:        cfg.Saver,
		quiescence:   quiescence,
		saveTimeout:  saveTimeout,
		retryBackoff: retryBackoff,
		logger:       logger,
		notify:       make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
		phase:        PhaseIdle,
	}
	go pipeline.run()
	return pipeline, nil
}

// Observe feeds one mutation into the session. It never blocks: mutations
// arriving faster than the loop drains them supersede each other, which is the
// coalescing contract anyway. It reports false when the session is already
// closed.
func (p *Pipeline) Observe(mutation Mutation) bool {
	select {
	case <-p.closeCh:
		return false
	default:
	}
	tree := mutation.Tree
	p.mu.Lock()
	p.latest = &tree
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// Close cancels any pending debounce wait and stops the loop. A save already
// in flight completes before the loop exits; it is never aborted mid-write.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
	})
	<-p.done
}

// Phase returns the current state machine position.
func (p *Pipeline) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Halted reports whether the session stopped saving because the draft became
// collaborative.
func (p *Pipeline) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Writes returns the number of store writes issued so far.
func (p *Pipeline) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *Pipeline) run() {
	defer close(p.done)

	var pending *content.Tree
	var timer *time.Timer
	var timerC <-chan time.Time

	arm := func(wait time.Duration) {
		if timer == nil {
			timer = time.NewTimer(wait)
			timerC = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		timerC = timer.C
	}
	disarm := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timerC = nil
	}

	for {
		select {
		case <-p.notify:
			p.mu.Lock()
			latest := p.latest
			p.latest = nil
			p.mu.Unlock()
			if latest == nil {
				continue
			}
			if p.Halted() {
				p.logger.Info("autosave ignoring mutation for collaborative draft",
					zap.String("draft_id", p.draftID.String()))
				continue
			}
			pending = latest
			// Every mutation restarts the quiescence window, including
			// mutations arriving while a retry backoff is pending.
			arm(p.quiescence)
		case <-timerC:
			timerC = nil
			if pending == nil {
				p.setPhase(PhaseIdle)
				continue
			}
			if p.attempt(*pending) {
				pending = nil
			} else {
				arm(p.retryBackoff)
			}
		case <-p.closeCh:
			disarm()
			return
		}
	}
}

// attempt runs one save. It returns true when the pending tree is settled
// (saved, skipped, or permanently rejected) and false when a retry is due.
func (p *Pipeline) attempt(tree content.Tree) bool {
	p.setPhase(PhasePendingSave)

	fingerprint := content.Fingerprint(tree)
	p.mu.Lock()
	alreadySaved := fingerprint == p.lastSavedFingerprint && p.lastSavedFingerprint != ""
	p.mu.Unlock()
	if alreadySaved {
		p.setPhase(PhaseIdle)
		return true
	}

	p.setPhase(PhaseSaving)
	ctx, cancel := context.WithTimeout(context.Background(), p.saveTimeout)
	defer cancel()

	outcome, err := p.saver.SaveSnapshot(ctx, drafts.SnapshotRequest{
		AuthorID: p.authorID,
		DraftID:  p.draftID,
		Tree:     tree,
	})
	if err != nil {
		switch {
		case errors.Is(err, drafts.ErrDraftCollaborative):
			// The draft migrated under us; the relay owns it now.
			p.logger.Info("autosave disabled, draft is collaborative",
				zap.String("draft_id", p.draftID.String()))
			p.mu.Lock()
			p.halted = true
			p.phase = PhaseIdle
			p.mu.Unlock()
			return true
		case errors.Is(err, content.ErrMalformedContent),
			errors.Is(err, drafts.ErrForbidden),
			errors.Is(err, drafts.ErrDraftNotFound):
			// Pure or permission failures are never retried automatically.
			p.logger.Error("autosave rejected",
				zap.String("draft_id", p.draftID.String()),
				zap.Error(err))
			p.setPhase(PhaseIdle)
			return true
		default:
			p.logger.Warn("autosave attempt failed, will retry",
				zap.String("draft_id", p.draftID.String()),
				zap.Error(err))
			p.setPhase(PhaseSaveFailed)
			return false
		}
	}

	p.mu.Lock()
	p.lastSavedFingerprint = outcome.Fingerprint
	if outcome.Saved {
		p.writes++
	}
	p.phase = PhaseIdle
	p.mu.Unlock()
	return true
}

func (p *Pipeline) setPhase(phase Phase) {
	p.mu.Lock()
	p.phase = phase
	p.mu.Unlock()
}
