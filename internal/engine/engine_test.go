package engine_test

import (
	"sync"
	"testing"
	"time"

	"taskwire/internal/domain"
	"taskwire/internal/engine"
	"taskwire/internal/registry"
	"taskwire/internal/store"
)

const testToken = "tok-test"

type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs []domain.Message
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) countByType(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	Engine engine.Engine
	Conn   *fakeConn
	Clock  *testClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st := store.New(t.TempDir())
	if err := st.EnsureNamespace(testToken); err != nil {
		t.Fatalf("ensure namespace: %v", err)
	}
	reg := registry.New()
	conn := &fakeConn{id: "conn-1"}
	reg.Associate(testToken, conn)
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(st, reg)
	eng.Now = clock.Now
	return testEnv{Engine: eng, Conn: conn, Clock: clock}
}

func TestCreateStartCompleteElapsed(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "write spec"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.StartedAt != 0 || created.CompletedAt != 0 || created.Elapsed != 0 {
		t.Fatalf("fresh task should be unstarted: %+v", created)
	}
	if env.Conn.countByType("created") != 1 {
		t.Fatalf("expected one created broadcast")
	}

	env.Clock.advance(time.Second)
	started, err := env.Engine.Start(testToken, created.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t1 := started.StartedAt
	if t1 == 0 {
		t.Fatalf("expected started_at set")
	}

	env.Clock.advance(5 * time.Second)
	done, err := env.Engine.Complete(testToken, created.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == 0 {
		t.Fatalf("expected completed_at set")
	}
	if got, want := done.Elapsed, done.CompletedAt-t1; got != want {
		t.Fatalf("elapsed = %d, want completed-started = %d", got, want)
	}
}

func TestStartIdempotent(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "once"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.Start(testToken, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	env.Clock.advance(time.Minute)
	second, err := env.Engine.Start(testToken, task.ID)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.StartedAt != first.StartedAt {
		t.Fatalf("second start changed started_at: %d -> %d", first.StartedAt, second.StartedAt)
	}
	if env.Conn.countByType("updated") != 1 {
		t.Fatalf("expected exactly one updated broadcast, got %d", env.Conn.countByType("updated"))
	}
}

// Elapsed must equal total active (started, not paused) wall-clock time.
// Historical revisions disagreed on the closed-form arithmetic, so the
// invariant is asserted rather than any one formula: active intervals are
// folded in at pause and completion.
func TestPauseResumeAccounting(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "tracked", Autostart: true})
	if err != nil {
		t.Fatal(err)
	}

	env.Clock.advance(10 * time.Second)
	paused, err := env.Engine.Pause(testToken, task.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Elapsed != (10 * time.Second).Milliseconds() {
		t.Fatalf("elapsed after pause = %d, want 10s", paused.Elapsed)
	}

	// A pause longer than the active interval must not shrink elapsed.
	env.Clock.advance(time.Hour)
	resumed, err := env.Engine.Resume(testToken, task.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Elapsed != paused.Elapsed {
		t.Fatalf("resume changed elapsed: %d -> %d", paused.Elapsed, resumed.Elapsed)
	}
	if resumed.PausedAt != 0 {
		t.Fatalf("resume should clear paused_at")
	}

	env.Clock.advance(7 * time.Second)
	done, err := env.Engine.Complete(testToken, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if want := (17 * time.Second).Milliseconds(); done.Elapsed != want {
		t.Fatalf("elapsed after complete = %d, want %d", done.Elapsed, want)
	}
}

func TestPauseRequiresRunning(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "idle"})
	if err != nil {
		t.Fatal(err)
	}
	before := env.Conn.countByType("updated")
	if _, err := env.Engine.Pause(testToken, task.ID); err != nil {
		t.Fatalf("pause on unstarted task should be a no-op, got %v", err)
	}
	if _, err := env.Engine.Resume(testToken, task.ID); err != nil {
		t.Fatalf("resume on unpaused task should be a no-op, got %v", err)
	}
	if env.Conn.countByType("updated") != before {
		t.Fatalf("no-op transitions must not broadcast")
	}
}

func TestCompleteWhilePaused(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "paused-done", Autostart: true})
	if err != nil {
		t.Fatal(err)
	}
	env.Clock.advance(3 * time.Second)
	if _, err := env.Engine.Pause(testToken, task.ID); err != nil {
		t.Fatal(err)
	}
	env.Clock.advance(time.Minute)
	done, err := env.Engine.Complete(testToken, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if want := (3 * time.Second).Milliseconds(); done.Elapsed != want {
		t.Fatalf("elapsed = %d, want %d (paused time excluded)", done.Elapsed, want)
	}
	if done.PausedAt != 0 {
		t.Fatalf("complete should clear paused_at")
	}
}

func TestCompleteNeverStarted(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "instant"})
	if err != nil {
		t.Fatal(err)
	}
	env.Clock.advance(time.Second)
	done, err := env.Engine.Complete(testToken, task.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.StartedAt == 0 || done.StartedAt != done.CompletedAt {
		t.Fatalf("completing an unstarted task should backfill started_at: %+v", done)
	}
	if done.Elapsed != 0 {
		t.Fatalf("elapsed = %d, want 0", done.Elapsed)
	}
}

func TestRestartResetsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "again", Autostart: true})
	if err != nil {
		t.Fatal(err)
	}
	env.Clock.advance(4 * time.Second)
	if _, err := env.Engine.Complete(testToken, task.ID); err != nil {
		t.Fatal(err)
	}
	env.Clock.advance(time.Second)
	restarted, err := env.Engine.Restart(testToken, task.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.CompletedAt != 0 || restarted.PausedAt != 0 {
		t.Fatalf("restart should clear completion and pause: %+v", restarted)
	}
	if restarted.Elapsed != 0 {
		t.Fatalf("restart should reset elapsed, got %d", restarted.Elapsed)
	}
	if restarted.StartedAt == task.StartedAt {
		t.Fatalf("restart should move started_at forward")
	}

	env.Clock.advance(2 * time.Second)
	done, err := env.Engine.Complete(testToken, task.ID)
	if err != nil {
		t.Fatalf("complete after restart: %v", err)
	}
	if want := (2 * time.Second).Milliseconds(); done.Elapsed != want {
		t.Fatalf("elapsed after restart cycle = %d, want %d", done.Elapsed, want)
	}
}

func TestRestartRequiresCompleted(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "running", Autostart: true})
	if err != nil {
		t.Fatal(err)
	}
	before := env.Conn.countByType("updated")
	if _, err := env.Engine.Restart(testToken, task.ID); err != nil {
		t.Fatalf("restart on running task should be a no-op, got %v", err)
	}
	if env.Conn.countByType("updated") != before {
		t.Fatalf("no-op restart must not broadcast")
	}
}

func TestStartCompletedCreatesCopy(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "template", Project: "acme", Priority: 2, Autostart: true})
	if err != nil {
		t.Fatal(err)
	}
	env.Clock.advance(time.Second)
	if _, err := env.Engine.Complete(testToken, task.ID); err != nil {
		t.Fatal(err)
	}
	env.Clock.advance(time.Second)
	fresh, err := env.Engine.Start(testToken, task.ID)
	if err != nil {
		t.Fatalf("start on completed: %v", err)
	}
	if fresh.ID == task.ID {
		t.Fatalf("expected a fresh record, got the original id")
	}
	if fresh.Name != "template" || fresh.Project != "acme" || fresh.Priority != 2 {
		t.Fatalf("copy should carry template fields: %+v", fresh)
	}
	if fresh.StartedAt == 0 || fresh.CompletedAt != 0 || fresh.Elapsed != 0 {
		t.Fatalf("copy should be freshly started: %+v", fresh)
	}
	original, err := env.Engine.Store.Read(testToken, task.ID)
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	if original.CompletedAt == 0 {
		t.Fatalf("original completed record must be untouched")
	}
	if env.Conn.countByType("created") != 2 {
		t.Fatalf("expected a second created broadcast for the copy")
	}
}

func TestCopyIsUnstarted(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "dup", Project: "acme", Autostart: true})
	if err != nil {
		t.Fatal(err)
	}
	dup, err := env.Engine.Copy(testToken, task.ID)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if dup.ID == task.ID || dup.StartedAt != 0 || dup.Elapsed != 0 {
		t.Fatalf("copy should be a fresh unstarted record: %+v", dup)
	}
	if dup.Name != "dup" || dup.Project != "acme" {
		t.Fatalf("copy should carry template fields: %+v", dup)
	}
}

func TestDeleteIdempotentAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "gone"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Delete(testToken, domain.Task{ID: task.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.Engine.Delete(testToken, domain.Task{ID: task.ID}); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}
	if env.Conn.countByType("deleted") != 2 {
		t.Fatalf("deletion must broadcast even when the file is absent")
	}
	if _, err := env.Engine.Store.Read(testToken, task.ID); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRenameAndPriorityBroadcast(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.Create(testToken, engine.CreateOptions{Name: "old"})
	if err != nil {
		t.Fatal(err)
	}
	renamed, err := env.Engine.Rename(testToken, task.ID, "new")
	if err != nil || renamed.Name != "new" {
		t.Fatalf("rename: %v %+v", err, renamed)
	}
	bumped, err := env.Engine.SetPriority(testToken, task.ID, 5)
	if err != nil || bumped.Priority != 5 {
		t.Fatalf("set priority: %v %+v", err, bumped)
	}
	if env.Conn.countByType("updated") != 2 {
		t.Fatalf("expected two updated broadcasts, got %d", env.Conn.countByType("updated"))
	}
}

func TestLifecycleOnMissingTask(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Start(testToken, "nope"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
