package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.github.com"

// GitHub implements Client over the GitHub REST v3 API.
type GitHub struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewGitHub creates a client. baseURL == "" uses api.github.com.
func NewGitHub(baseURL, token string) *GitHub {
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	return &GitHub{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *GitHub) do(ctx context.Context, method, path, accept string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	req.Header.Set("Accept", accept)
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("github %s %s: %s: %s", method, path, resp.Status, truncate(string(data), 300))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

type ghPull struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Head   struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

func (g *GitHub) FetchPR(ctx context.Context, repo string, pr int) (*PullRequest, error) {
	data, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, pr), "", nil)
	if err != nil {
		return nil, err
	}
	var p ghPull
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pull request: %w", err)
	}
	return &PullRequest{
		Number:     p.Number,
		Title:      p.Title,
		Body:       p.Body,
		HeadSHA:    p.Head.SHA,
		HeadBranch: p.Head.Ref,
		BaseBranch: p.Base.Ref,
	}, nil
}

func (g *GitHub) FetchPRDiff(ctx context.Context, repo string, pr int) (string, error) {
	data, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, pr), "application/vnd.github.v3.diff", nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (g *GitHub) SubmitReview(ctx context.Context, repo string, pr int, action ReviewAction, body string) error {
	payload := map[string]string{
		"event": string(action),
		"body":  body,
	}
	_, err := g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls/%d/reviews", repo, pr), "", payload)
	return err
}

func (g *GitHub) CreateReviewComment(ctx context.Context, repo string, pr int, commitSHA, path string, line int, body string) error {
	payload := map[string]any{
		"commit_id": commitSHA,
		"path":      path,
		"line":      line,
		"side":      "RIGHT",
		"body":      body,
	}
	_, err := g.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls/%d/comments", repo, pr), "", payload)
	return err
}

type ghComment struct {
	ID   int64 `json:"id"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	Line      int       `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

func toComments(raw []ghComment) []Comment {
	out := make([]Comment, 0, len(raw))
	for _, c := range raw {
		out = append(out, Comment{
			ID:        c.ID,
			Author:    c.User.Login,
			Body:      c.Body,
			Path:      c.Path,
			Line:      c.Line,
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}

func (g *GitHub) FetchReviewComments(ctx context.Context, repo string, pr int) ([]Comment, error) {
	data, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d/comments?per_page=100", repo, pr), "", nil)
	if err != nil {
		return nil, err
	}
	var raw []ghComment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse review comments: %w", err)
	}
	return toComments(raw), nil
}

func (g *GitHub) FetchDiscussionComments(ctx context.Context, repo string, pr int) ([]Comment, error) {
	data, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d/comments?per_page=100", repo, pr), "", nil)
	if err != nil {
		return nil, err
	}
	var raw []ghComment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse discussion comments: %w", err)
	}
	return toComments(raw), nil
}
