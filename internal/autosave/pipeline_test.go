package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/plumeworks/plume/backend/internal/content"
	"github.com/plumeworks/plume/backend/internal/drafts"
)

type recordingSaver struct {
	mu       sync.Mutex
	requests []drafts.SnapshotRequest
	failures int
	failWith error
	delay    time.Duration
}

func (s *recordingSaver) SaveSnapshot(_ context.Context, request drafts.SnapshotRequest) (drafts.SnapshotOutcome, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return drafts.SnapshotOutcome{}, s.failWith
	}
	s.requests = append(s.requests, request)
	return drafts.SnapshotOutcome{
		Saved:       true,
		Fingerprint: content.Fingerprint(request.Tree),
	}, nil
}

func (s *recordingSaver) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *recordingSaver) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *recordingSaver) lastRequest(t *testing.T) drafts.SnapshotRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("expected at least one save request")
	}
	return s.requests[len(s.requests)-1]
}

func paragraphTree(text string) content.Tree {
	return content.NewTree([]content.Node{
		{
			Kind:  content.NodeKindParagraph,
			Spans: []content.Span{{Text: text}},
		},
	})
}

func mustPipeline(t *testing.T, saver Saver, quiescence time.Duration, backoff time.Duration) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(PipelineConfig{
		AuthorID:     mustPipelineAuthorID(t),
		DraftID:      mustPipelineDraftID(t),
		Saver:        saver,
		Quiescence:   quiescence,
		SaveTimeout:  time.Second,
		RetryBackoff: backoff,
	})
	if err != nil {
		t.Fatalf("NewPipeline returned error: %v", err)
	}
	t.Cleanup(pipeline.Close)
	return pipeline
}

func mustPipelineAuthorID(t *testing.T) drafts.AuthorID {
	t.Helper()
	authorID, err := drafts.NewAuthorID("author-autosave")
	if err != nil {
		t.Fatalf("NewAuthorID returned error: %v", err)
	}
	return authorID
}

func mustPipelineDraftID(t *testing.T) drafts.DraftID {
	t.Helper()
	draftID, err := drafts.NewDraftID("draft-autosave")
	if err != nil {
		t.Fatalf("NewDraftID returned error: %v", err)
	}
	return draftID
}

func waitUntil(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestPipelineCoalescesMutationsInsideQuiescenceWindow(t *testing.T) {
	saver := &recordingSaver{}
	pipeline := mustPipeline(t, saver, 100*time.Millisecond, 50*time.Millisecond)

	observedAt := time.Now()
	pipeline.Observe(Mutation{Tree: paragraphTree("first"), ObservedAt: observedAt})
	time.Sleep(50 * time.Millisecond)
	pipeline.Observe(Mutation{Tree: paragraphTree("second"), ObservedAt: observedAt.Add(50 * time.Millisecond)})
	time.Sleep(40 * time.Millisecond)
	pipeline.Observe(Mutation{Tree: paragraphTree("third"), ObservedAt: observedAt.Add(90 * time.Millisecond)})

	waitUntil(t, time.Second, func() bool { return saver.requestCount() == 1 })

	// No further attempt appears after the window settles.
	time.Sleep(200 * time.Millisecond)
	if count := saver.requestCount(); count != 1 {
		t.Fatalf("expected exactly one save, observed %d", count)
	}

	saved := saver.lastRequest(t)
	if got, want := content.Fingerprint(saved.Tree), content.Fingerprint(paragraphTree("third")); got != want {
		t.Fatal("expected the latest mutation to win the coalesced save")
	}
}

func TestPipelineObserveNeverBlocksDuringSlowSave(t *testing.T) {
	saver := &recordingSaver{delay: 150 * time.Millisecond}
	pipeline := mustPipeline(t, saver, 10*time.Millisecond, 10*time.Millisecond)

	pipeline.Observe(Mutation{Tree: paragraphTree("opening"), ObservedAt: time.Now()})
	waitUntil(t, time.Second, func() bool { return pipeline.Phase() == PhaseSaving })

	// A burst far beyond any internal buffering must return immediately while
	// the first save is still in flight.
	start := time.Now()
	for index := 0; index < 64; index++ {
		if !pipeline.Observe(Mutation{Tree: paragraphTree(fmt.Sprintf("burst-%d", index)), ObservedAt: time.Now()}) {
			t.Fatalf("observe %d reported a closed session", index)
		}
	}
	if elapsed := time.Since(start); elapsed >= saver.delay {
		t.Fatalf("expected the burst to outpace the in-flight save, took %v", elapsed)
	}

	waitUntil(t, 2*time.Second, func() bool { return saver.requestCount() == 2 })
	saved := saver.lastRequest(t)
	if got, want := content.Fingerprint(saved.Tree), content.Fingerprint(paragraphTree("burst-63")); got != want {
		t.Fatal("expected the newest burst mutation to supersede the rest")
	}
}

func TestPipelineSkipsSaveWhenContentUnchanged(t *testing.T) {
	saver := &recordingSaver{}
	pipeline := mustPipeline(t, saver, 20*time.Millisecond, 20*time.Millisecond)

	tree := paragraphTree("stable")
	pipeline.Observe(Mutation{Tree: tree, ObservedAt: time.Now()})
	waitUntil(t, time.Second, func() bool { return saver.requestCount() == 1 })

	pipeline.Observe(Mutation{Tree: tree, ObservedAt: time.Now()})
	time.Sleep(150 * time.Millisecond)
	if count := saver.requestCount(); count != 1 {
		t.Fatalf("expected no write for unchanged content, observed %d saves", count)
	}
	if phase := pipeline.Phase(); phase != PhaseIdle {
		t.Fatalf("expected idle phase after skipped save, got %q", phase)
	}
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	saver := &recordingSaver{
		failures: 2,
		failWith: drafts.ErrTransientStoreFailure,
	}
	pipeline := mustPipeline(t, saver, 10*time.Millisecond, 20*time.Millisecond)

	pipeline.Observe(Mutation{Tree: paragraphTree("retried"), ObservedAt: time.Now()})
	waitUntil(t, 2*time.Second, func() bool { return saver.requestCount() == 1 })

	if pipeline.Writes() != 1 {
		t.Fatalf("expected one successful write, got %d", pipeline.Writes())
	}
	saved := saver.lastRequest(t)
	if got, want := content.Fingerprint(saved.Tree), content.Fingerprint(paragraphTree("retried")); got != want {
		t.Fatal("retry saved unexpected content")
	}
}

func TestPipelineHaltsWhenDraftBecomesCollaborative(t *testing.T) {
	saver := &recordingSaver{
		failures: 1000,
		failWith: drafts.ErrDraftCollaborative,
	}
	pipeline := mustPipeline(t, saver, 10*time.Millisecond, 10*time.Millisecond)

	pipeline.Observe(Mutation{Tree: paragraphTree("doomed"), ObservedAt: time.Now()})
	waitUntil(t, time.Second, pipeline.Halted)

	pipeline.Observe(Mutation{Tree: paragraphTree("ignored"), ObservedAt: time.Now()})
	time.Sleep(100 * time.Millisecond)
	if count := saver.requestCount(); count != 0 {
		t.Fatalf("expected zero successful saves on a collaborative draft, got %d", count)
	}
	if !pipeline.Halted() {
		t.Fatal("expected the session to stay halted")
	}
}

func TestPipelineDoesNotRetryMalformedContent(t *testing.T) {
	saver := &recordingSaver{
		failures: 1,
		failWith: content.ErrMalformedContent,
	}
	pipeline := mustPipeline(t, saver, 10*time.Millisecond, 10*time.Millisecond)

	pipeline.Observe(Mutation{Tree: paragraphTree("bad"), ObservedAt: time.Now()})
	waitUntil(t, time.Second, func() bool { return pipeline.Phase() == PhaseIdle && saver.failureCount() == 0 })

	time.Sleep(100 * time.Millisecond)
	if count := saver.requestCount(); count != 0 {
		t.Fatalf("expected no retry after a malformed-content rejection, got %d saves", count)
	}
}

func TestPipelineCloseWaitsForInFlightSave(t *testing.T) {
	saver := &recordingSaver{delay: 80 * time.Millisecond}
	pipeline := mustPipeline(t, saver, 10*time.Millisecond, 10*time.Millisecond)

	pipeline.Observe(Mutation{Tree: paragraphTree("closing"), ObservedAt: time.Now()})
	waitUntil(t, time.Second, func() bool { return pipeline.Phase() == PhaseSaving })

	pipeline.Close()
	if count := saver.requestCount(); count != 1 {
		t.Fatalf("expected the in-flight save to finish before close returned, got %d saves", count)
	}
	if pipeline.Observe(Mutation{Tree: paragraphTree("late"), ObservedAt: time.Now()}) {
		t.Fatal("expected mutations after close to be refused")
	}
}

func TestPipelineRejectsIncompleteConfiguration(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{
		AuthorID: mustPipelineAuthorID(t),
		DraftID:  mustPipelineDraftID(t),
	})
	if !errors.Is(err, errMissingSaver) {
		t.Fatalf("expected missing-saver error, got %v", err)
	}
}
