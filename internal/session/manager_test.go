package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePersistor is an in-memory Persistor standing in for BadgerPersistor,
// used to exercise the persist-on-write path (SaveGroup called from within
// RegisterTable/StartCapture/etc.) without a real Badger store.
type fakePersistor struct {
	mu    sync.Mutex
	saved map[uint32][]Snapshot
}

func newFakePersistor() *fakePersistor {
	return &fakePersistor{saved: make(map[uint32][]Snapshot)}
}

func (p *fakePersistor) SaveGroup(sgid uint32, jobs []Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[sgid] = jobs
	return nil
}

func (p *fakePersistor) DeleteGroup(sgid uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, sgid)
	return nil
}

func (p *fakePersistor) LoadAll(ctx context.Context) (map[uint32][]Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint32][]Snapshot, len(p.saved))
	for k, v := range p.saved {
		out[k] = v
	}
	return out, nil
}

// withDeadline runs fn and fails the test if it doesn't return within d,
// catching a regression of the persistGroup-while-j.mu-held deadlock: every
// configuring call below would otherwise hang forever rather than error.
func withDeadline(t *testing.T, d time.Duration, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(d):
		t.Fatal("timed out — likely deadlocked persisting the group while holding the job lock")
	}
}

func TestCreateGroupAssignsNonZeroSGID(t *testing.T) {
	m := NewManager(nil, nil)
	sgid, err := m.CreateGroup(context.Background())
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if sgid == 0 {
		t.Fatal("expected a non-zero sgid")
	}

	if _, ok := m.FindGroup(sgid); !ok {
		t.Fatal("expected FindGroup to find the new group")
	}
}

func TestRegisterTableThenDuplicateFails(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()
	sgid, _ := m.CreateGroup(ctx)
	g, _ := m.FindGroup(sgid)
	jd, err := m.AddJob(ctx, g)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	if err := m.RegisterTable(ctx, g, jd, "bob", "orders"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := m.RegisterTable(ctx, g, jd, "bob", "orders"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	if err := m.UnregisterTable(ctx, g, jd, "bob", "orders"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := m.UnregisterTable(ctx, g, jd, "bob", "orders"); !errors.Is(err, ErrUnregistered) {
		t.Fatalf("expected ErrUnregistered, got %v", err)
	}
}

func TestStartCaptureTwiceFails(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()
	sgid, _ := m.CreateGroup(ctx)
	g, _ := m.FindGroup(sgid)
	jd, _ := m.AddJob(ctx, g)

	if err := m.RegisterTable(ctx, g, jd, "bob", "orders"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.StartCapture(ctx, g, jd); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := m.StartCapture(ctx, g, jd); !errors.Is(err, ErrJobAlreadyStarted) {
		t.Fatalf("expected ErrJobAlreadyStarted, got %v", err)
	}
}

func TestStartCaptureRequiresRegisteredTable(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()
	sgid, _ := m.CreateGroup(ctx)
	g, _ := m.FindGroup(sgid)
	jd, _ := m.AddJob(ctx, g)

	if err := m.StartCapture(ctx, g, jd); !errors.Is(err, ErrNoTablesRegistered) {
		t.Fatalf("expected ErrNoTablesRegistered, got %v", err)
	}
}

func TestConfigureRejectedWhileRunning(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()
	sgid, _ := m.CreateGroup(ctx)
	g, _ := m.FindGroup(sgid)
	jd, _ := m.AddJob(ctx, g)

	if err := m.RegisterTable(ctx, g, jd, "bob", "orders"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.StartCapture(ctx, g, jd); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.RegisterTable(ctx, g, jd, "bob", "invoices"); !errors.Is(err, ErrInvalidJobStatus) {
		t.Fatalf("expected ErrInvalidJobStatus, got %v", err)
	}
	if err := m.SetJobAttr(ctx, g, jd, 1, []byte("x")); !errors.Is(err, ErrInvalidJobStatus) {
		t.Fatalf("expected ErrInvalidJobStatus for SetJobAttr, got %v", err)
	}
}

func TestStopCaptureTwiceFails(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()
	sgid, _ := m.CreateGroup(ctx)
	g, _ := m.FindGroup(sgid)
	jd, _ := m.AddJob(ctx, g)
	_ = m.RegisterTable(ctx, g, jd, "bob", "orders")
	_ = m.StartCapture(ctx, g, jd)

	if err := m.StopCapture(ctx, g, jd, StopImmediately); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := m.StopCapture(ctx, g, jd, StopImmediately); !errors.Is(err, ErrJobAlreadyStopped) {
		t.Fatalf("expected ErrJobAlreadyStopped, got %v", err)
	}
}

func TestDestroyGroupClosesJobs(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()
	sgid, _ := m.CreateGroup(ctx)
	g, _ := m.FindGroup(sgid)
	jd, _ := m.AddJob(ctx, g)
	_ = m.RegisterTable(ctx, g, jd, "bob", "orders")
	_ = m.StartCapture(ctx, g, jd)

	if err := m.DestroyGroup(ctx, sgid); err != nil {
		t.Fatalf("DestroyGroup: %v", err)
	}
	if _, ok := m.FindGroup(sgid); ok {
		t.Fatal("expected group to be gone after DestroyGroup")
	}
	status, err := m.JobStatus(g, jd)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if status != StatusClosed {
		t.Fatalf("expected job to be CLOSED after group destruction, got %s", status)
	}
}

func TestConfiguringOpsPersistWithoutDeadlock(t *testing.T) {
	persistor := newFakePersistor()
	m := NewManager(persistor, nil)
	ctx := context.Background()

	sgid, err := m.CreateGroup(ctx)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g, _ := m.FindGroup(sgid)
	jd, err := m.AddJob(ctx, g)
	if err != nil {
		t.Fatalf("AddJob: %v", err)
	}

	withDeadline(t, 2*time.Second, func() error {
		return m.RegisterTable(ctx, g, jd, "bob", "orders")
	})
	withDeadline(t, 2*time.Second, func() error {
		return m.SetJobAttr(ctx, g, jd, 1, []byte("x"))
	})
	withDeadline(t, 2*time.Second, func() error {
		return m.StartCapture(ctx, g, jd)
	})
	withDeadline(t, 2*time.Second, func() error {
		return m.StopCapture(ctx, g, jd, StopImmediately)
	})
	withDeadline(t, 2*time.Second, func() error {
		return m.UnregisterTable(ctx, g, jd, "bob", "orders")
	})

	persistor.mu.Lock()
	snaps, ok := persistor.saved[sgid]
	persistor.mu.Unlock()
	if !ok {
		t.Fatal("expected SaveGroup to have been called for sgid")
	}
	if len(snaps) != 1 {
		t.Fatalf("expected one job snapshot persisted, got %d", len(snaps))
	}
}

func TestAddJobExceedsMax(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()
	sgid, _ := m.CreateGroup(ctx)
	g, _ := m.FindGroup(sgid)

	for desc := uint16(1); desc <= JobCountPerGroupMax; desc++ {
		g.jobs[desc] = newJob(desc)
	}
	g.nextJobDesc = JobCountPerGroupMax

	if _, err := m.AddJob(ctx, g); !errors.Is(err, ErrExceedMax) {
		t.Fatalf("expected ErrExceedMax once at capacity, got %v", err)
	}
}
