package pcrform

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Jacob-Maurice/PCR/draftstore"
	"github.com/Jacob-Maurice/PCR/sketch"
	"github.com/Jacob-Maurice/PCR/snapshot"
)

type memStore struct {
	mu      sync.Mutex
	snap    snapshot.Snapshot
	has     bool
	saves   int
	clears  int
	loadErr error
	saveErr error
	clrErr  error
}

func (m *memStore) Save(_ context.Context, snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap, m.has = snap, true
	m.saves++
	return nil
}

func (m *memStore) Load(context.Context) (snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return snapshot.Snapshot{}, m.loadErr
	}
	if !m.has {
		return snapshot.Snapshot{}, draftstore.ErrNoDraft
	}
	return m.snap, nil
}

func (m *memStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clrErr != nil {
		return m.clrErr
	}
	m.has = false
	m.clears++
	return nil
}

func (m *memStore) saved() (snapshot.Snapshot, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.saves
}

type memSubmitter struct {
	mu   sync.Mutex
	snap snapshot.Snapshot
	n    int
	err  error
}

func (m *memSubmitter) Submit(_ context.Context, snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snap, m.n = snap, m.n+1
	return nil
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "body.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 12))); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSession(t *testing.T, store *memStore, sub *memSubmitter) *Session {
	t.Helper()
	cfg := &Config{
		User:    "medic7",
		Backend: BackendLocal,
		Debounce: DebounceConfig{
			Window: 20 * time.Millisecond,
			Grace:  40 * time.Millisecond,
		},
		Image: ImageConfig{Path: writeTestImage(t), Width: 40, Height: 60},
	}
	s, err := New(cfg, nil, WithStore(store), WithSubmitter(sub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitSaves(t *testing.T, store *memStore, want int) snapshot.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, n := store.saved()
		if n >= want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, n := store.saved()
	t.Fatalf("saves = %d, want at least %d", n, want)
	return snapshot.Snapshot{}
}

func TestStartWithoutDraft(t *testing.T) {
	s := newTestSession(t, &memStore{}, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("state = %q, want %q", got, StateReady)
	}
	if got := s.Form().Text("patientName"); got != "" {
		t.Fatalf("patientName = %q, want empty", got)
	}
	if !s.Layer().Loaded() {
		t.Fatal("base image not painted")
	}
}

func TestStartRestoresDraft(t *testing.T) {
	snap := snapshot.New()
	snap.Scalars["patientName"] = "Jane Roe"
	snap.Scalars["consciousness"] = "verbal"
	snap.Scalars["pulse"] = "88"
	snap.Multis["symptoms[]"] = []string{"dizziness", "nausea"}
	snap.Points = []sketch.Point{{X: 3, Y: 9}}
	store := &memStore{snap: snap, has: true}

	s := newTestSession(t, store, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f := s.Form()
	if got := f.Text("patientName"); got != "Jane Roe" {
		t.Errorf("patientName = %q", got)
	}
	if got := f.Radio("consciousness"); got != "verbal" {
		t.Errorf("consciousness = %q", got)
	}
	if got := f.Text("pulse"); got != "88" {
		t.Errorf("pulse = %q", got)
	}
	if !f.Checked("symptoms[]", "dizziness") || !f.Checked("symptoms[]", "nausea") {
		t.Error("symptoms not restored")
	}
	if pts := s.Layer().Points(); len(pts) != 1 || pts[0] != (sketch.Point{X: 3, Y: 9}) {
		t.Errorf("points = %v", pts)
	}

	// Restoration itself must not schedule an autosave.
	time.Sleep(100 * time.Millisecond)
	if _, n := store.saved(); n != 0 {
		t.Errorf("restore triggered %d saves", n)
	}
}

func TestStartLoadFailureStartsBlank(t *testing.T) {
	store := &memStore{loadErr: errors.New("boom")}
	s := newTestSession(t, store, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("state = %q, want %q", got, StateReady)
	}
}

func TestEditsCoalesceIntoOneSave(t *testing.T) {
	store := &memStore{}
	s := newTestSession(t, store, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, v := range []string{"J", "Ja", "Jan", "Jane"} {
		if err := s.SetText("patientName", v); err != nil {
			t.Fatal(err)
		}
	}
	snap := waitSaves(t, store, 1)
	if got := snap.Scalars["patientName"]; got != "Jane" {
		t.Errorf("saved patientName = %q, want final value", got)
	}
	if snap.SavedBy != "medic7" {
		t.Errorf("savedBy = %q", snap.SavedBy)
	}
	time.Sleep(60 * time.Millisecond)
	if _, n := store.saved(); n != 1 {
		t.Errorf("saves = %d, want 1", n)
	}
}

func TestFlushSavesImmediately(t *testing.T) {
	store := &memStore{}
	s := newTestSession(t, store, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetRadio("priority", "high"); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	snap, n := store.saved()
	if n < 1 {
		t.Fatalf("saves = %d, want at least 1", n)
	}
	if got := snap.Scalars["priority"]; got != "high" {
		t.Errorf("priority = %q", got)
	}
}

func TestClearWipesEverything(t *testing.T) {
	store := &memStore{}
	s := newTestSession(t, store, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetText("patientName", "Jane Roe"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetText("otherFindings", "suspected concussion"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPoint(5, 5); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := s.State(); got != StateCleared {
		t.Fatalf("state = %q", got)
	}
	if got := s.Form().Text("patientName"); got != "" {
		t.Errorf("patientName = %q after clear", got)
	}
	if got := s.Form().Text("otherFindings"); got != "" {
		t.Errorf("otherFindings = %q after clear", got)
	}
	if pts := s.Layer().Points(); len(pts) != 0 {
		t.Errorf("points = %v after clear", pts)
	}

	// The pre-empted autosave must not resurrect pre-clear state.
	time.Sleep(100 * time.Millisecond)
	if _, n := store.saved(); n != 0 {
		t.Errorf("suppressed autosave still fired %d times", n)
	}

	// Edits after clear return the session to ready.
	if err := s.SetText("patientName", "next patient"); err != nil {
		t.Fatal(err)
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("state after edit = %q", got)
	}
}

func TestClearFailureLeavesStateUntouched(t *testing.T) {
	store := &memStore{clrErr: errors.New("backend down")}
	s := newTestSession(t, store, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetText("patientName", "Jane Roe"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPoint(2, 2); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(context.Background()); err == nil {
		t.Fatal("Clear succeeded, want error")
	}
	if got := s.Form().Text("patientName"); got != "Jane Roe" {
		t.Errorf("patientName = %q, want untouched", got)
	}
	if pts := s.Layer().Points(); len(pts) != 1 {
		t.Errorf("points = %v, want untouched", pts)
	}
}

func TestSubmitSuccess(t *testing.T) {
	store := &memStore{}
	sub := &memSubmitter{}
	s := newTestSession(t, store, sub)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetText("patientName", "Jane Roe"); err != nil {
		t.Fatal(err)
	}

	if err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.n != 1 {
		t.Fatalf("submissions = %d", sub.n)
	}
	if got := sub.snap.Scalars["patientName"]; got != "Jane Roe" {
		t.Errorf("submitted patientName = %q", got)
	}
	if got := s.State(); got != StateSubmitted {
		t.Fatalf("state = %q", got)
	}
	if got := s.Form().Text("patientName"); got != "" {
		t.Errorf("patientName = %q after submit", got)
	}
	if store.clears != 1 {
		t.Errorf("draft clears = %d, want 1", store.clears)
	}
}

func TestSubmitFailureKeepsState(t *testing.T) {
	store := &memStore{}
	sub := &memSubmitter{err: errors.New("503")}
	s := newTestSession(t, store, sub)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetText("patientName", "Jane Roe"); err != nil {
		t.Fatal(err)
	}

	if err := s.Submit(context.Background()); err == nil {
		t.Fatal("Submit succeeded, want error")
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("state = %q", got)
	}
	if got := s.Form().Text("patientName"); got != "Jane Roe" {
		t.Errorf("patientName = %q, want untouched", got)
	}
	if store.clears != 0 {
		t.Errorf("draft cleared on failed submit")
	}
}

func TestLogoutFlushesWithoutBlocking(t *testing.T) {
	store := &memStore{}
	s := newTestSession(t, store, &memSubmitter{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.SetText("location", "Main St"); err != nil {
		t.Fatal(err)
	}

	s.Logout()
	snap := waitSaves(t, store, 1)
	if got := snap.Scalars["location"]; got != "Main St" {
		t.Errorf("saved location = %q", got)
	}
}
