package forge

import (
	"testing"
)

func TestBotFilterIsBot(t *testing.T) {
	f := BotFilter{Suffixes: []string{"[bot]"}, Exact: []string{"github-actions", "dependabot"}}

	tests := []struct {
		author string
		want   bool
	}{
		{author: "linter[bot]", want: true},
		{author: "github-actions", want: true},
		{author: "dependabot", want: true},
		{author: "alice", want: false},
		{author: "bot", want: false},
		{author: "github-actions-fan", want: false},
		{author: "", want: false},
	}
	for _, tt := range tests {
		if got := f.IsBot(tt.author); got != tt.want {
			t.Errorf("IsBot(%q) = %v, want %v", tt.author, got, tt.want)
		}
	}
}

func TestBotFilterEmptyPatternsIgnored(t *testing.T) {
	f := BotFilter{Suffixes: []string{""}, Exact: []string{""}}
	if f.IsBot("anyone") || f.IsBot("") {
		t.Error("empty patterns must never match")
	}
}

func TestFilterBotCommentsCap(t *testing.T) {
	f := BotFilter{Suffixes: []string{"[bot]"}}
	var comments []Comment
	for i := 0; i < 10; i++ {
		comments = append(comments, Comment{Author: "ci[bot]", Body: "noise"})
	}
	comments = append(comments, Comment{Author: "alice", Body: "human"})

	got := f.FilterBotComments(comments, 3)
	if len(got) != 3 {
		t.Errorf("expected cap of 3, got %d", len(got))
	}
	got = f.FilterBotComments(comments, 0)
	if len(got) != 10 {
		t.Errorf("expected no cap, got %d", len(got))
	}
}

const positionDiff = `diff --git a/internal/server.go b/internal/server.go
--- a/internal/server.go
+++ b/internal/server.go
@@ -10,6 +10,8 @@
 func serve() {
 	addr := ":8080"
 	mux := http.NewServeMux()
+	mux.HandleFunc("/healthz", healthz)
+	mux.HandleFunc("/readyz", readyz)
 	srv := &http.Server{Addr: addr, Handler: mux}
 	log.Fatal(srv.ListenAndServe())
 }
@@ -40,3 +42,6 @@ func healthz(w http.ResponseWriter, r *http.Request) {
 	w.WriteHeader(http.StatusOK)
 }
+
+func readyz(w http.ResponseWriter, r *http.Request) {
+}
`

func TestValidateCommentPosition(t *testing.T) {
	tests := []struct {
		name string
		path string
		line int
		want bool
	}{
		{name: "first hunk start", path: "internal/server.go", line: 10, want: true},
		{name: "first hunk end", path: "internal/server.go", line: 17, want: true},
		{name: "between hunks", path: "internal/server.go", line: 30, want: false},
		{name: "second hunk", path: "internal/server.go", line: 45, want: true},
		{name: "past second hunk", path: "internal/server.go", line: 48, want: false},
		{name: "unknown file", path: "main.go", line: 10, want: false},
		{name: "zero line", path: "internal/server.go", line: 0, want: false},
		{name: "empty path", path: "", line: 10, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateCommentPosition(positionDiff, tt.path, tt.line); got != tt.want {
				t.Errorf("ValidateCommentPosition(%q, %d) = %v, want %v", tt.path, tt.line, got, tt.want)
			}
		})
	}
}

func TestValidateCommentPositionGarbageDiff(t *testing.T) {
	if ValidateCommentPosition("not a diff", "main.go", 1) {
		t.Error("garbage diff must reject all positions")
	}
	if ValidateCommentPosition("", "main.go", 1) {
		t.Error("empty diff must reject all positions")
	}
}
