package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"annotator/config"
	"annotator/internal/domain"
	"annotator/internal/port"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock returns a clock advancing one minute per call.
func fakeClock() func() time.Time {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.Put(domain.AnnotationRecord{
		Text:     "John Doe visited Paris.",
		Model:    "gpt-4o-mini",
		Entities: []domain.Entity{{StartChar: 0, EndChar: 8, Text: "John Doe", Label: "PER"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("expected an ID to be assigned")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	got, err := s.Get(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != rec.Text || len(got.Entities) != 1 {
		t.Errorf("unexpected record: %+v", got)
	}

	if err := s.Delete(rec.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestPutKeepsCreatedAt(t *testing.T) {
	s := openTestStore(t)
	s.now = fakeClock()

	first, _ := s.Put(domain.AnnotationRecord{ID: "r1", Text: "a"})
	second, err := s.Put(domain.AnnotationRecord{ID: "r1", Text: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on replace: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Error("expected UpdatedAt to advance")
	}
}

func TestListFilterAndPaging(t *testing.T) {
	s := openTestStore(t)
	s.now = fakeClock()

	for i, r := range []domain.AnnotationRecord{
		{ID: "a", ProjectID: "p1", Model: "gpt-4"},
		{ID: "b", ProjectID: "p1", Model: "gpt-4o-mini"},
		{ID: "c", ProjectID: "p2", Model: "gpt-4"},
		{ID: "d", ProjectID: "p1", Model: "gpt-4"},
	} {
		if _, err := s.Put(r); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	all, total, err := s.List(port.RecordFilter{}, port.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("expected 4 records, got %d/%d", len(all), total)
	}
	if all[0].ID != "d" || all[3].ID != "a" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[3].ID)
	}

	p1, total, _ := s.List(port.RecordFilter{ProjectID: "p1", Model: "gpt-4"}, port.Page{})
	if total != 2 || p1[0].ID != "d" || p1[1].ID != "a" {
		t.Errorf("unexpected project filter result: total=%d %v", total, ids(p1))
	}

	page, total, _ := s.List(port.RecordFilter{}, port.Page{Offset: 1, Limit: 2})
	if total != 4 || len(page) != 2 || page[0].ID != "c" {
		t.Errorf("unexpected page: total=%d %v", total, ids(page))
	}

	beyond, total, _ := s.List(port.RecordFilter{}, port.Page{Offset: 10, Limit: 2})
	if total != 4 || len(beyond) != 0 {
		t.Errorf("expected empty page past the end, got %v", ids(beyond))
	}
}

func TestProjectIndexFollowsMoves(t *testing.T) {
	s := openTestStore(t)

	s.Put(domain.AnnotationRecord{ID: "x", ProjectID: "p1"})
	s.Put(domain.AnnotationRecord{ID: "x", ProjectID: "p2"})

	p1, _, _ := s.List(port.RecordFilter{ProjectID: "p1"}, port.Page{})
	p2, _, _ := s.List(port.RecordFilter{ProjectID: "p2"}, port.Page{})
	if len(p1) != 0 || len(p2) != 1 {
		t.Errorf("expected record to move projects, got p1=%v p2=%v", ids(p1), ids(p2))
	}
}

func TestUpdateEntitiesAndEvaluation(t *testing.T) {
	s := openTestStore(t)
	rec, _ := s.Put(domain.AnnotationRecord{Text: "Paris"})

	stats := &domain.FixStats{Total: 1, Fixed: 1, StrategyUsed: "closest"}
	updated, err := s.UpdateEntities(rec.ID, []domain.Entity{{StartChar: 0, EndChar: 5, Text: "Paris", Label: "LOC"}}, stats)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Statistics.TotalEntities != 1 || updated.FixStats == nil || updated.FixStats.Fixed != 1 {
		t.Errorf("unexpected update: %+v", updated)
	}

	evals := []domain.EntityEvaluation{{EntityIndex: 0, Recommendation: domain.RecommendKeep, IsCorrect: true}}
	if _, err := s.RecordEvaluation(rec.ID, evals); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(rec.ID)
	if len(got.Evaluations) != 1 || len(got.Entities) != 1 {
		t.Errorf("unexpected stored record: %+v", got)
	}

	if _, err := s.UpdateEntities("missing", nil, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrations(t *testing.T) {
	s := openTestStore(t)
	cfg := config.DefaultConfig()

	result, err := s.CheckMigration(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !result.NeedsMigration || result.OldVersion != 0 {
		t.Errorf("expected fresh store to need migration, got %+v", result)
	}

	if err := s.SetSchemaInfo(&SchemaInfo{Version: 1}); err != nil {
		t.Fatal(err)
	}
	s.Put(domain.AnnotationRecord{ID: "old", ProjectID: "legacy"})
	if err := s.Migrate(cfg); err != nil {
		t.Fatal(err)
	}

	result, _ = s.CheckMigration(cfg)
	if result.NeedsMigration || result.NeedsRebuild || result.ConfigChanged {
		t.Errorf("expected clean state after migration, got %+v", result)
	}
	legacy, _, _ := s.List(port.RecordFilter{ProjectID: "legacy"}, port.Page{})
	if len(legacy) != 1 {
		t.Errorf("expected project index to be rebuilt, got %v", ids(legacy))
	}

	cfg.Chunking.Size = 500
	result, _ = s.CheckMigration(cfg)
	if !result.ConfigChanged {
		t.Error("expected config change to be detected")
	}

	s.SetSchemaInfo(&SchemaInfo{Version: CurrentSchemaVersion + 1})
	result, _ = s.CheckMigration(cfg)
	if !result.NeedsRebuild {
		t.Error("expected newer schema to require rebuild")
	}
}

func TestClear(t *testing.T) {
	s := openTestStore(t)
	s.Put(domain.AnnotationRecord{ID: "a", ProjectID: "p"})
	s.Migrate(config.DefaultConfig())

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	_, total, _ := s.List(port.RecordFilter{}, port.Page{})
	if total != 0 {
		t.Errorf("expected empty store, got %d records", total)
	}
	info, _ := s.GetSchemaInfo()
	if info.Version != CurrentSchemaVersion {
		t.Errorf("expected schema info to survive Clear, got %+v", info)
	}
}

func ids(records []domain.AnnotationRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
