package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndListByDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e, err := s.Create(ctx, "2026-08-25", "meal", "oatmeal with berries", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.ID == "" {
		t.Error("entry must get an id")
	}
	if _, err := s.Create(ctx, "2026-08-25", "workout", "long run at the park", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, "2026-08-26", "meal", "pasta", nil); err != nil {
		t.Fatal(err)
	}

	day, err := s.ByDate(ctx, "2026-08-25", "")
	if err != nil {
		t.Fatalf("ByDate: %v", err)
	}
	if len(day) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(day))
	}

	meals, err := s.ByDate(ctx, "2026-08-25", "meal")
	if err != nil {
		t.Fatal(err)
	}
	if len(meals) != 1 || meals[0].Text != "oatmeal with berries" {
		t.Errorf("category filter broken: %+v", meals)
	}
}

func TestCreateValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "2026-08-25", "gardening", "weeded", nil); err == nil {
		t.Error("unknown category must be rejected")
	}
	if _, err := s.Create(ctx, "not-a-date", "meal", "toast", nil); err == nil {
		t.Error("bad date must be rejected")
	}
	if _, err := s.Create(ctx, "2026-08-25", "meal", "   ", nil); err == nil {
		t.Error("empty text must be rejected")
	}
}

func TestSearchAndRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, e := range []struct{ date, cat, text string }{
		{"2026-08-20", "workout", "easy run 5k"},
		{"2026-08-22", "workout", "long run 15k"},
		{"2026-08-24", "meal", "post-run pancakes"},
	} {
		if _, err := s.Create(ctx, e.date, e.cat, e.text, nil); err != nil {
			t.Fatal(err)
		}
	}

	hits, err := s.Search(ctx, "run", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("expected 3 hits, got %d", len(hits))
	}

	workouts, err := s.Range(ctx, "2026-08-20", "2026-08-23", "workout")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(workouts) != 2 || workouts[0].Date != "2026-08-20" {
		t.Errorf("range filter broken: %+v", workouts)
	}
}

func TestBridgeToolFlow(t *testing.T) {
	s := openTestStore(t)
	b := NewBridge(s)
	ctx := context.Background()

	defs := b.ListTools()
	if len(defs) == 0 {
		t.Fatal("bridge exposes no tools")
	}
	for _, def := range defs {
		if !strings.Contains(def.Name, ".") {
			t.Errorf("tool %q is not namespaced", def.Name)
		}
	}

	out, err := b.ExecuteTool(ctx, "journal.create_entry", map[string]any{
		"date": "2026-08-25", "category": "workout", "text": "long run at the park",
	})
	if err != nil {
		t.Fatalf("create_entry: %v", err)
	}
	if !strings.Contains(out, "long run at the park") {
		t.Errorf("create result missing entry: %q", out)
	}

	out, err = b.ExecuteTool(ctx, "journal.list_entries", map[string]any{"date": "2026-08-25"})
	if err != nil {
		t.Fatalf("list_entries: %v", err)
	}
	if !strings.Contains(out, "1 entries found") {
		t.Errorf("unexpected list output: %q", out)
	}

	if _, err := b.ExecuteTool(ctx, "journal.bogus", nil); err == nil {
		t.Error("unknown tool must fail")
	}
}

func TestBridgeSkeletonAndContext(t *testing.T) {
	s := openTestStore(t)
	b := NewBridge(s)
	ctx := context.Background()

	skel, err := b.BuildSkeleton(ctx, "2026-08-25")
	if err != nil {
		t.Fatalf("BuildSkeleton: %v", err)
	}
	if !strings.Contains(skel, "No entries") {
		t.Errorf("empty day skeleton: %q", skel)
	}

	if _, err := s.Create(ctx, "2026-08-25", "meal", "oatmeal", nil); err != nil {
		t.Fatal(err)
	}
	skel, err = b.BuildSkeleton(ctx, "2026-08-25")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(skel, "[meal] oatmeal") {
		t.Errorf("skeleton missing entry: %q", skel)
	}

	uc, err := b.UserContext(ctx, "2026-08-25")
	if err != nil {
		t.Fatalf("UserContext: %v", err)
	}
	if uc != "" {
		t.Errorf("expected empty profile, got %q", uc)
	}
	if err := s.SetProfile(ctx, "vegetarian, trains for a marathon"); err != nil {
		t.Fatal(err)
	}
	uc, err = b.UserContext(ctx, "2026-08-25")
	if err != nil {
		t.Fatal(err)
	}
	if uc != "vegetarian, trains for a marathon" {
		t.Errorf("profile round trip: %q", uc)
	}
}
