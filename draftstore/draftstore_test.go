package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Jacob-Maurice/PCR/dbopen"
	"github.com/Jacob-Maurice/PCR/sketch"
	"github.com/Jacob-Maurice/PCR/snapshot"
	_ "modernc.org/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// draftServer is a minimal in-memory rendition of the server's draft
// endpoints, scoped by bearer token.
type draftServer struct {
	mu     sync.Mutex
	drafts map[string]string
}

func newDraftServer() *draftServer {
	return &draftServer{drafts: make(map[string]string)}
}

func (s *draftServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit_draft", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.drafts[r.Header.Get("Authorization")] = string(body)
		s.mu.Unlock()
		w.WriteHeader(200)
	})
	mux.HandleFunc("/get_draft", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		s.mu.Lock()
		draft, ok := s.drafts[r.Header.Get("Authorization")]
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(404)
			json.NewEncoder(w).Encode(map[string]string{"message": "No draft found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"draft": draft})
	})
	mux.HandleFunc("/api/clear_draft", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		s.mu.Lock()
		delete(s.drafts, r.Header.Get("Authorization"))
		s.mu.Unlock()
		w.WriteHeader(200)
	})
	return mux
}

func newLocalStore(t *testing.T, user string) *Local {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema()))
	return NewLocal(db, "v2", user, WithLocalLogger(discardLogger()))
}

// testStoreContract runs the shared Save/Load/Clear contract against any
// backend.
func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	// Absent record.
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("Load on empty store = %v, want ErrNoDraft", err)
	}

	// Save and load back.
	snap := snapshot.New()
	snap.Scalars["patientName"] = "Jane Roe"
	snap.Multis["symptoms[]"] = []string{"nausea", "bleeding"}
	snap.Points = []sketch.Point{{X: 4, Y: 8}}
	snap.SavedBy = "medic7"
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Scalars["patientName"] != "Jane Roe" || got.SavedBy != "medic7" {
		t.Fatalf("loaded = %+v", got)
	}
	if len(got.Multis["symptoms[]"]) != 2 || len(got.Points) != 1 {
		t.Fatalf("loaded = %+v", got)
	}

	// Save replaces, no history.
	snap.Scalars["patientName"] = "John Doe"
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load after replace: %v", err)
	}
	if got.Scalars["patientName"] != "John Doe" {
		t.Fatalf("record not replaced: %+v", got)
	}

	// Clear is idempotent.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("Load after Clear = %v, want ErrNoDraft", err)
	}
}

func TestLocalContract(t *testing.T) {
	testStoreContract(t, newLocalStore(t, "medic7"))
}

func TestRemoteContract(t *testing.T) {
	ts := httptest.NewServer(newDraftServer().handler())
	defer ts.Close()
	testStoreContract(t, NewRemote(ts.URL,
		WithToken("tok"),
		WithRemoteLogger(discardLogger())))
}

func TestKeyDerivation(t *testing.T) {
	if got := Key("v2", "medic7"); got != "pcr:v2:user:medic7" {
		t.Fatalf("Key = %q", got)
	}
	if got := VersionPrefix("v2"); got != "pcr:v2:user:" {
		t.Fatalf("VersionPrefix = %q", got)
	}
}

func TestLocalEvictsOtherUsersOnLoad(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema()))
	ctx := context.Background()

	prev := NewLocal(db, "v2", "medic1", WithLocalLogger(discardLogger()))
	snap := snapshot.New()
	snap.Scalars["patientName"] = "previous user"
	if err := prev.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}

	// A different identity taking over the device evicts the old record.
	cur := NewLocal(db, "v2", "medic2", WithLocalLogger(discardLogger()))
	if _, err := cur.Load(ctx); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("Load = %v, want ErrNoDraft", err)
	}
	if _, err := prev.Load(ctx); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("evicted record still loads: %v", err)
	}
}

func TestLocalAnonFallback(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema()))
	s := NewLocal(db, "v2", "", WithLocalLogger(discardLogger()))
	ctx := context.Background()

	snap := snapshot.New()
	snap.Scalars["patientName"] = "Jane"
	if err := s.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}
	var key string
	if err := db.QueryRow(`SELECT key FROM pcr_drafts`).Scan(&key); err != nil {
		t.Fatal(err)
	}
	if key != "pcr:v2:user:anon" {
		t.Fatalf("key = %q", key)
	}
}

func TestLocalMalformedRecordReadsAsAbsent(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema()))
	s := NewLocal(db, "v2", "medic7", WithLocalLogger(discardLogger()))

	if _, err := db.Exec(
		`INSERT INTO pcr_drafts (key, value, updated_at) VALUES (?, ?, 0)`,
		Key("v2", "medic7"), "{corrupt"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNoDraft) {
		t.Fatalf("Load = %v, want ErrNoDraft", err)
	}
}

func TestRemoteMalformedEnvelopeReadsAsAbsent(t *testing.T) {
	cases := map[string]string{
		"non-json body":    "not json at all",
		"empty draft":      `{"draft": ""}`,
		"null draft":       `{"draft": null}`,
		"malformed draft":  `{"draft": "{corrupt"}`,
		"missing envelope": `{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer ts.Close()
			r := NewRemote(ts.URL, WithRemoteLogger(discardLogger()))
			if _, err := r.Load(context.Background()); !errors.Is(err, ErrNoDraft) {
				t.Fatalf("Load = %v, want ErrNoDraft", err)
			}
		})
	}
}

func TestRemoteLoadServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()
	r := NewRemote(ts.URL, WithRemoteLogger(discardLogger()))
	_, err := r.Load(context.Background())
	if err == nil || errors.Is(err, ErrNoDraft) {
		t.Fatalf("Load = %v, want transport error", err)
	}
}

func TestRemoteClearSurfacesServerMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(503)
		json.NewEncoder(w).Encode(map[string]string{"message": "storage offline"})
	}))
	defer ts.Close()
	r := NewRemote(ts.URL, WithRemoteLogger(discardLogger()))
	err := r.Clear(context.Background())
	if err == nil {
		t.Fatal("Clear succeeded against failing server")
	}
	if got := err.Error(); !errors.Is(err, ErrNoDraft) && got != "draftstore: clear: storage offline" {
		t.Fatalf("err = %q", got)
	}
}

func TestRemoteSendsBearerToken(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(200)
	}))
	defer ts.Close()
	r := NewRemote(ts.URL, WithToken("secret-token"), WithRemoteLogger(discardLogger()))
	if err := r.Save(context.Background(), snapshot.New()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}
