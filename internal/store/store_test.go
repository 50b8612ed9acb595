package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/revrally/revrally/internal/agent"
)

func TestSanitizeRepo(t *testing.T) {
	tests := []struct {
		name    string
		repo    string
		want    string
		wantErr bool
	}{
		{name: "plain", repo: "owner/repo", want: "owner_repo"},
		{name: "dots kept", repo: "owner/repo.go", want: "owner_repo.go"},
		{name: "spaces mapped", repo: "owner/my repo", want: "owner_my_repo"},
		{name: "empty", repo: "", wantErr: true},
		{name: "whitespace only", repo: "   ", wantErr: true},
		{name: "absolute", repo: "/etc/passwd", wantErr: true},
		{name: "leading dot", repo: ".hidden/repo", wantErr: true},
		{name: "traversal", repo: "../escape", wantErr: true},
		{name: "nested traversal", repo: "owner/../../escape", wantErr: true},
		{name: "backslash traversal", repo: "owner\\..\\escape", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeRepo(tt.repo)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRepoName) {
					t.Fatalf("expected ErrInvalidRepoName, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SanitizeRepo(%q) = %q, want %q", tt.repo, got, tt.want)
			}
		})
	}
}

func TestSessionRoundTrip(t *testing.T) {
	st := New(t.TempDir())
	sess := &Session{
		RunID:     "run-1",
		Repo:      "owner/repo",
		PRNumber:  42,
		Iteration: 3,
		State:     StateReviewerReviewing,
		StartedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
	}
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.LoadSession("owner/repo", 42)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(sess, got); diff != "" {
		t.Errorf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveSessionLeavesNoTempFiles(t *testing.T) {
	st := New(t.TempDir())
	sess := &Session{RunID: "run-1", Repo: "owner/repo", PRNumber: 1, State: StateInitializing}
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	path, err := st.SessionPath("owner/repo", 1)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "session.json" && e.Name() != "history" {
			t.Errorf("unexpected file %q left behind", e.Name())
		}
	}
}

func TestLoadSessionMissing(t *testing.T) {
	st := New(t.TempDir())
	if _, err := st.LoadSession("owner/repo", 1); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestHistoryOrderingAndNoCollision(t *testing.T) {
	st := New(t.TempDir())
	repo, pr := "owner/repo", 7

	// Written out of order on purpose.
	entries := []*HistoryEntry{
		{Iteration: 2, Kind: EntryReview, Review: &agent.ReviewerOutput{Action: agent.ActionApprove, Summary: "second review"}},
		{Iteration: 1, Kind: EntryFix, Fix: &agent.RevieweeOutput{Status: agent.StatusCompleted, Summary: "first fix"}},
		{Iteration: 1, Kind: EntryReview, Review: &agent.ReviewerOutput{Action: agent.ActionRequestChanges, Summary: "first review"}},
	}
	for _, e := range entries {
		if err := st.AppendHistory(repo, pr, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := st.LoadHistory(repo, pr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	// Review precedes fix within an iteration regardless of how the
	// filenames sort lexically.
	order := []struct {
		iter int
		kind EntryKind
	}{{1, EntryReview}, {1, EntryFix}, {2, EntryReview}}
	for i, want := range order {
		if got[i].Iteration != want.iter || got[i].Kind != want.kind {
			t.Errorf("entry %d: got (%d, %s), want (%d, %s)", i, got[i].Iteration, got[i].Kind, want.iter, want.kind)
		}
	}
}

func TestHistoryRewriteOverwrites(t *testing.T) {
	st := New(t.TempDir())
	repo, pr := "owner/repo", 3

	first := &HistoryEntry{Iteration: 1, Kind: EntryFix, Fix: &agent.RevieweeOutput{Status: agent.StatusNeedsClarification, Summary: "stuck"}}
	if err := st.AppendHistory(repo, pr, first); err != nil {
		t.Fatal(err)
	}
	second := &HistoryEntry{Iteration: 1, Kind: EntryFix, Fix: &agent.RevieweeOutput{Status: agent.StatusCompleted, Summary: "resolved"}}
	if err := st.AppendHistory(repo, pr, second); err != nil {
		t.Fatal(err)
	}

	got, err := st.LoadHistory(repo, pr)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected single entry after rewrite, got %d", len(got))
	}
	if got[0].Fix.Status != agent.StatusCompleted {
		t.Errorf("expected rewritten entry, got %+v", got[0].Fix)
	}
}

func TestLoadHistoryEmpty(t *testing.T) {
	st := New(t.TempDir())
	got, err := st.LoadHistory("owner/repo", 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing history, got %v", got)
	}
}

func TestStatePartition(t *testing.T) {
	all := []RallyState{
		StateInitializing, StateReviewerReviewing, StateRevieweeFix,
		StateWaitingForClarification, StateWaitingForPermission,
		StateCompleted, StateAborted, StateError,
	}
	for _, s := range all {
		if s.IsActive() == s.IsFinished() {
			t.Errorf("state %q must be exactly one of active or finished", s)
		}
	}
	for _, s := range []RallyState{StateCompleted, StateAborted, StateError} {
		if !s.IsFinished() {
			t.Errorf("state %q must be terminal", s)
		}
	}
}
