package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/vision"
)

// newTestStore creates a Store in a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"sessions", "scenes", "timings", "settings"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}
	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestStore_ForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)

	var fkEnabled int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("failed to check foreign keys pragma: %v", err)
	}
	if fkEnabled != 1 {
		t.Error("foreign keys should be enabled")
	}
}

func testScene(ts time.Time, faces int, regressed bool) *facefinder.Scene {
	sc := &facefinder.Scene{ID: uuid.New(), Timestamp: ts, Regressed: regressed}
	for i := 0; i < faces; i++ {
		sc.Faces = append(sc.Faces, facefinder.Face{
			Region:   vision.Rect{X1: 10, Y1: 10, X2: 90, Y2: 90},
			Score:    5,
			Distance: 0.6,
		})
	}
	return sc
}

func TestSessionRepository(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	sess := &Session{Source: "camera:0"}
	if err := repo.Create(sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Create() did not assign an id")
	}

	got, err := repo.GetByID(sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Source != "camera:0" || got.EndedAt != nil {
		t.Errorf("GetByID() = %+v", got)
	}

	if err := repo.End(sess.ID, time.Now(), 120, 3); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	got, _ = repo.GetByID(sess.ID)
	if got.EndedAt == nil || got.Frames != 120 || got.Dropped != 3 {
		t.Errorf("after End() = %+v", got)
	}

	list, err := repo.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %d sessions, err %v", len(list), err)
	}

	if err := repo.Delete(sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() twice error = %v, want ErrNotFound", err)
	}
	if err := repo.End("missing", time.Now(), 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("End() on missing session error = %v, want ErrNotFound", err)
	}
}

func TestSceneRepository(t *testing.T) {
	s := newTestStore(t)
	sess := &Session{Source: "test"}
	s.Sessions().Create(sess)

	base := time.Now().UTC().Truncate(time.Millisecond)
	light := testScene(base, 1, false)
	if err := s.Scenes().Insert(sess.ID, light); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// The full notification of the same scene upgrades the record.
	full := *light
	full.Regressed = true
	full.Faces[0].Shape = &vision.Shape{Points: []vision.Point{{X: 1, Y: 2}}}
	if err := s.Scenes().Insert(sess.ID, &full); err != nil {
		t.Fatalf("Insert(full) error = %v", err)
	}
	// A later lightweight copy does not downgrade it.
	if err := s.Scenes().Insert(sess.ID, light); err != nil {
		t.Fatalf("Insert(light again) error = %v", err)
	}
	s.Scenes().Insert(sess.ID, testScene(base.Add(time.Second), 0, false))

	n, err := s.Scenes().Count(sess.ID)
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v; want 2", n, err)
	}

	recs, err := s.Scenes().List(sess.ID, 0, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("List() = %d records, want 2", len(recs))
	}
	first := recs[0]
	if first.ID != light.ID.String() || !first.Regressed || first.Faces != 1 {
		t.Errorf("first record = %+v", first)
	}
	if first.Scene.Faces[0].Shape == nil {
		t.Error("stored scene lost its landmarks")
	}

	page, _ := s.Scenes().List(sess.ID, 1, 10)
	if len(page) != 1 || page[0].Faces != 0 {
		t.Errorf("List(offset 1) = %v", page)
	}

	got, _ := s.Sessions().GetByID(sess.ID)
	if got.Scenes != 2 {
		t.Errorf("session scene count = %d, want 2", got.Scenes)
	}
}

func TestTimingRepository_Summary(t *testing.T) {
	s := newTestStore(t)
	sess := &Session{Source: "test"}
	s.Sessions().Create(sess)

	now := time.Now()
	s.Timings().Insert(sess.ID, "detection", 2*time.Millisecond, now)
	s.Timings().Insert(sess.ID, "detection", 4*time.Millisecond, now)
	s.Timings().Insert(sess.ID, "acf", time.Millisecond, now)

	sum, err := s.Timings().Summary(sess.ID)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(sum) != 2 {
		t.Fatalf("Summary() = %d phases, want 2", len(sum))
	}
	det := sum[1]
	if det.Phase != "detection" || det.Count != 2 || det.Mean != 3*time.Millisecond || det.Max != 4*time.Millisecond {
		t.Errorf("detection summary = %+v", det)
	}
}

func TestSettingsRepository_Params(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	base := facefinder.DefaultParams()
	if _, err := repo.LoadParams(base); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadParams() on empty store error = %v, want ErrNotFound", err)
	}

	p := base
	p.Interval = 250 * time.Millisecond
	p.DoIris = true
	p.BlobPolicy = facefinder.BlobUnion
	if err := repo.SaveParams(p); err != nil {
		t.Fatalf("SaveParams() error = %v", err)
	}

	got, err := repo.LoadParams(base)
	if err != nil {
		t.Fatalf("LoadParams() error = %v", err)
	}
	if got != p {
		t.Errorf("LoadParams() = %+v, want %+v", got, p)
	}
}

func TestRecorder(t *testing.T) {
	s := newTestStore(t)
	rec, err := NewRecorder(s, "replay:test.mp4", nil)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	base := time.Now()
	scene := testScene(base, 1, true)
	rec.OnScene(scene, base, true)
	for i := 0; i < 5; i++ {
		rec.OnScene(scene, base.Add(time.Duration(i)*time.Millisecond), false)
	}
	rec.OnScene(testScene(base.Add(time.Second), 0, false), base.Add(time.Second), false)
	rec.PhaseSink(facefinder.PhaseACF)(time.Millisecond)

	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Notifications after Close are ignored.
	rec.OnScene(testScene(base.Add(2*time.Second), 0, false), base, false)

	if n, _ := s.Scenes().Count(rec.SessionID()); n != 2 {
		t.Errorf("stored scenes = %d, want 2", n)
	}
	sess, err := s.Sessions().GetByID(rec.SessionID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.Frames != 6 || sess.EndedAt == nil {
		t.Errorf("session = %+v, want 6 frames and an end time", sess)
	}
	if sum, _ := s.Timings().Summary(rec.SessionID()); len(sum) != 1 || sum[0].Phase != "acf" {
		t.Errorf("timings = %+v", sum)
	}
	if rec.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", rec.Dropped())
	}
	if len(rec.PhaseSinks()) != 6 {
		t.Errorf("PhaseSinks() = %d sinks, want 6", len(rec.PhaseSinks()))
	}
}
