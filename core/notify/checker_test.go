package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSource scripts the fingerprint sequence and counts refreshes.
type fakeSource struct {
	mu           sync.Mutex
	fingerprint  string
	fpErr        error
	refreshErr   error
	fingerprints int
	refreshes    int
}

func (f *fakeSource) Fingerprint(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fingerprints++
	return f.fingerprint, f.fpErr
}

func (f *fakeSource) Refresh(ctx context.Context) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return []Event{NewEvent(EventFileListUpdated, f.fingerprint)}, nil
}

func (f *fakeSource) set(fingerprint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fingerprint = fingerprint
}

func (f *fakeSource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fingerprints, f.refreshes
}

func TestChecker_BroadcastsOnFingerprintChange(t *testing.T) {
	source := &fakeSource{fingerprint: "aaa"}
	hub := NewHub(8, nil)
	defer hub.Close()
	sub := hub.Subscribe()

	checker := NewChecker(source, hub, time.Hour, nil)

	checker.Check(context.Background())

	events := collect(sub, 1, time.Second)
	if len(events) != 1 {
		t.Fatalf("received %d events, want 1", len(events))
	}
	if events[0].Type != EventFileListUpdated {
		t.Errorf("event type = %s", events[0].Type)
	}
}

func TestChecker_NoChangeNoBroadcast(t *testing.T) {
	source := &fakeSource{fingerprint: "aaa"}
	hub := NewHub(8, nil)
	defer hub.Close()
	sub := hub.Subscribe()

	checker := NewChecker(source, hub, time.Hour, nil)

	checker.Check(context.Background())
	checker.Check(context.Background())
	checker.Check(context.Background())

	events := collect(sub, 2, 100*time.Millisecond)
	if len(events) != 1 {
		t.Errorf("received %d events, want 1 (unchanged fingerprint must not rebroadcast)", len(events))
	}

	_, refreshes := source.counts()
	if refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes)
	}
}

func TestChecker_FingerprintErrorKeepsLastSeen(t *testing.T) {
	source := &fakeSource{fingerprint: "aaa"}
	hub := NewHub(8, nil)
	defer hub.Close()
	sub := hub.Subscribe()

	checker := NewChecker(source, hub, time.Hour, nil)
	checker.Check(context.Background())
	collect(sub, 1, time.Second)

	// Remote becomes unreachable, then recovers with a new tip.
	source.mu.Lock()
	source.fpErr = errors.New("remote down")
	source.mu.Unlock()
	checker.Check(context.Background())

	source.mu.Lock()
	source.fpErr = nil
	source.fingerprint = "bbb"
	source.mu.Unlock()
	checker.Check(context.Background())

	events := collect(sub, 1, time.Second)
	if len(events) != 1 {
		t.Errorf("recovery check should broadcast, got %d events", len(events))
	}
}

func TestChecker_RefreshErrorRetriesNextCheck(t *testing.T) {
	source := &fakeSource{fingerprint: "aaa", refreshErr: errors.New("pull failed")}
	hub := NewHub(8, nil)
	defer hub.Close()
	sub := hub.Subscribe()

	checker := NewChecker(source, hub, time.Hour, nil)
	checker.Check(context.Background())

	if events := collect(sub, 1, 100*time.Millisecond); len(events) != 0 {
		t.Fatalf("failed refresh must not broadcast, got %d events", len(events))
	}

	// The fingerprint was not recorded, so the next check retries.
	source.mu.Lock()
	source.refreshErr = nil
	source.mu.Unlock()
	checker.Check(context.Background())

	if events := collect(sub, 1, time.Second); len(events) != 1 {
		t.Errorf("retry after refresh failure should broadcast, got %d events", len(events))
	}
}

func TestChecker_PauseAndResume(t *testing.T) {
	source := &fakeSource{fingerprint: "aaa"}
	hub := NewHub(8, nil)
	defer hub.Close()

	checker := NewChecker(source, hub, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go checker.Run(ctx)

	// Let the initial check land, then pause.
	time.Sleep(50 * time.Millisecond)
	checker.Pause()
	if !checker.IsPaused() {
		t.Fatal("checker should report paused")
	}
	time.Sleep(30 * time.Millisecond)

	before, _ := source.counts()
	time.Sleep(100 * time.Millisecond)
	after, _ := source.counts()
	if after != before {
		t.Errorf("paused checker ran %d checks", after-before)
	}

	// Resume must trigger one immediate check, not wait an interval.
	source.set("bbb")
	checker.Resume()

	deadline := time.After(time.Second)
	for {
		_, refreshes := source.counts()
		if refreshes >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("resume did not trigger an immediate check")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestChecker_KickCoalesces(t *testing.T) {
	checker := NewChecker(&fakeSource{}, NewHub(1, nil), time.Hour, nil)

	// Kicking repeatedly without a running loop must not block.
	for i := 0; i < 10; i++ {
		checker.Kick()
	}
}

func TestChecker_StateTransitions(t *testing.T) {
	source := &fakeSource{fingerprint: "aaa"}
	checker := NewChecker(source, NewHub(1, nil), time.Hour, nil)

	if checker.State() != StateIdle {
		t.Errorf("initial state = %s, want idle", checker.State())
	}

	checker.Check(context.Background())

	if checker.State() != StateIdle {
		t.Errorf("post-check state = %s, want idle", checker.State())
	}
}
