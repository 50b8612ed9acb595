// Package config loads the revrally TOML configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the rally configuration.
type Config struct {
	Reviewer      string `toml:"reviewer"`
	Reviewee      string `toml:"reviewee"`
	MaxIterations int    `toml:"max_iterations"`
	TimeoutSecs   int    `toml:"timeout_secs"`
	PromptDir     string `toml:"prompt_dir"`

	// Agent commands
	ClaudeCmd string `toml:"claude_cmd"`
	CodexCmd  string `toml:"codex_cmd"`

	// Additional allowed tools (Variant A agents only)
	ReviewerAdditionalTools []string `toml:"reviewer_additional_tools"`
	RevieweeAdditionalTools []string `toml:"reviewee_additional_tools"`

	// VCS host
	GitHubAPIURL string `toml:"github_api_url"`
	GitHubToken  string `toml:"github_token"`

	// External bot comment filtering
	BotCommentSuffixes []string `toml:"bot_comment_suffixes"`
	BotCommentAuthors  []string `toml:"bot_comment_authors"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Reviewer:           "claude-code",
		Reviewee:           "claude-code",
		MaxIterations:      5,
		TimeoutSecs:        1800,
		ClaudeCmd:          "claude",
		CodexCmd:           "codex",
		BotCommentSuffixes: []string{"[bot]"},
		BotCommentAuthors:  []string{"github-actions", "dependabot"},
	}
}

// DataDir returns the revrally data directory.
// Uses REVRALLY_DATA_DIR env var if set, otherwise ~/.revrally
func DataDir() string {
	if dir := os.Getenv("REVRALLY_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".revrally")
}

// Path returns the global config file path.
func Path() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load loads the configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom loads the configuration from a specific path. A missing file
// yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the default path.
func Save(cfg *Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ResolveToken returns the GitHub token from config or the GITHUB_TOKEN
// environment variable.
func (c *Config) ResolveToken() string {
	if c.GitHubToken != "" {
		return c.GitHubToken
	}
	return os.Getenv("GITHUB_TOKEN")
}
