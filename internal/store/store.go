package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidRepoName is returned for repo names that would escape the
// rally directory.
var ErrInvalidRepoName = errors.New("invalid repo name")

// Store lays rallies out under <root>/rally/<sanitized repo>_<pr>/ with
// a session.json per rally and one history file per (iteration, kind).
// A rally's files are owned exclusively by the running orchestrator; no
// locking is attempted.
type Store struct {
	root string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// SanitizeRepo converts "owner/name" into a filesystem-safe key.
// Absolute paths, traversal segments and leading dots are rejected.
func SanitizeRepo(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRepoName)
	}
	if filepath.IsAbs(repo) || strings.HasPrefix(repo, "/") || strings.HasPrefix(repo, "\\") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidRepoName, repo)
	}
	if strings.HasPrefix(repo, ".") {
		return "", fmt.Errorf("%w: leading dot in %q", ErrInvalidRepoName, repo)
	}
	for _, part := range strings.FieldsFunc(repo, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", fmt.Errorf("%w: traversal in %q", ErrInvalidRepoName, repo)
		}
	}
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, repo)
	if sanitized == "" || strings.HasPrefix(sanitized, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRepoName, repo)
	}
	return sanitized, nil
}

// rallyDir returns the directory for one (repo, pr) rally.
func (s *Store) rallyDir(repo string, pr int) (string, error) {
	sanitized, err := SanitizeRepo(repo)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, "rally", fmt.Sprintf("%s_%d", sanitized, pr)), nil
}

// SessionPath returns the session file path for a rally.
func (s *Store) SessionPath(repo string, pr int) (string, error) {
	dir, err := s.rallyDir(repo, pr)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// SaveSession overwrites the session document via write-to-temp then
// atomic rename. A stale temp file is removed if the rename fails.
func (s *Store) SaveSession(sess *Session) error {
	path, err := s.SessionPath(sess.Repo, sess.PRNumber)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return atomicWrite(path, data)
}

// LoadSession reads the persisted session for a rally.
func (s *Store) LoadSession(repo string, pr int) (*Session, error) {
	path, err := s.SessionPath(repo, pr)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &sess, nil
}

// historyFilename sorts lexically by iteration for up to 999 iterations.
func historyFilename(iteration int, kind EntryKind) string {
	return fmt.Sprintf("%03d_%s.json", iteration, kind)
}

// AppendHistory writes one history entry. Distinct (iteration, kind)
// pairs never collide; re-writing the same pair overwrites it.
func (s *Store) AppendHistory(repo string, pr int, entry *HistoryEntry) error {
	dir, err := s.rallyDir(repo, pr)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	path := filepath.Join(dir, "history", historyFilename(entry.Iteration, entry.Kind))
	return atomicWrite(path, data)
}

// LoadHistory returns all history entries for a rally in iteration
// order, review before fix within an iteration. Filenames alone sort
// fix first lexically, so the entries are ordered after parsing.
func (s *Store) LoadHistory(repo string, pr int) ([]*HistoryEntry, error) {
	dir, err := s.rallyDir(repo, pr)
	if err != nil {
		return nil, err
	}
	histDir := filepath.Join(dir, "history")
	names, err := os.ReadDir(histDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range names {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	entries := make([]*HistoryEntry, 0, len(files))
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(histDir, name))
		if err != nil {
			return nil, err
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("parse history entry %s: %w", name, err)
		}
		entries = append(entries, &entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Iteration != entries[j].Iteration {
			return entries[i].Iteration < entries[j].Iteration
		}
		return entries[i].Kind == EntryReview && entries[j].Kind == EntryFix
	})
	return entries, nil
}

// atomicWrite writes data to path through a temp file and rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
