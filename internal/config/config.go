// Package config provides configuration types and defaults for ultrawork.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/ultrawork/internal/tracing"
)

// Config holds all configuration options for ultrawork.
type Config struct {
	// Root overrides the store root. Empty means ULTRAWORK_ROOT or the
	// default under the caller's home directory.
	Root string `mapstructure:"root"`

	// Format is the default output format: "table" or "json".
	Format string `mapstructure:"format"`

	Store   StoreConfig    `mapstructure:"store"`
	Session SessionConfig  `mapstructure:"session"`
	Mailbox MailboxConfig  `mapstructure:"mailbox"`
	Swarm   SwarmConfig    `mapstructure:"swarm"`
	Cleanup CleanupConfig  `mapstructure:"cleanup"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// StoreConfig tunes the atomic store.
type StoreConfig struct {
	// LockTimeoutMS bounds advisory lock acquisition. Default: 5000.
	LockTimeoutMS int `mapstructure:"lock_timeout_ms"`
}

// SessionConfig holds session pipeline defaults.
type SessionConfig struct {
	// MaxIterations bounds execute-verify retries. Default: 5.
	MaxIterations int `mapstructure:"max_iterations"`
}

// MailboxConfig tunes message polling.
type MailboxConfig struct {
	// PollTimeoutMS is the default poll wait. Default: 30000.
	PollTimeoutMS int `mapstructure:"poll_timeout_ms"`

	// PollIntervalMS is the recheck tick while waiting. Default: 500.
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
}

// SwarmConfig holds swarm supervision defaults.
type SwarmConfig struct {
	// MaxWorkers bounds concurrent workers. 0 = unbounded.
	MaxWorkers int `mapstructure:"max_workers"`

	// SessionPrefix names pane-host sessions: <prefix>-<project>-<team>.
	SessionPrefix string `mapstructure:"session_prefix"`

	// WorkerCommand, when set, is typed into each worker's pane after
	// spawn. Placeholders: {project} {team} {worker} {role} {worktree}.
	WorkerCommand string `mapstructure:"worker_command"`

	// UseWorktree provisions an isolated working copy per worker.
	UseWorktree bool `mapstructure:"use_worktree"`
}

// CleanupConfig holds session pruning defaults.
type CleanupConfig struct {
	// OlderThanDays is the default age threshold. Default: 7.
	OlderThanDays int `mapstructure:"older_than_days"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Format: "table",
		Store: StoreConfig{
			LockTimeoutMS: 5000,
		},
		Session: SessionConfig{
			MaxIterations: 5,
		},
		Mailbox: MailboxConfig{
			PollTimeoutMS:  30000,
			PollIntervalMS: 500,
		},
		Swarm: SwarmConfig{
			MaxWorkers:    0,
			SessionPrefix: "ultrawork",
		},
		Cleanup: CleanupConfig{
			OlderThanDays: 7,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// DefaultConfigPath returns ~/.config/ultrawork/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ultrawork", "config.yaml"), nil
}

// WriteDefaultConfig writes the commented template to path, refusing to
// overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// DefaultConfigTemplate returns the commented starter config.
func DefaultConfigTemplate() string {
	return `# ultrawork Configuration

# Store root for all sessions, projects, and swarms.
# Default: ~/.claude/ultrawork (ULTRAWORK_ROOT overrides)
# root: /path/to/store

# Default output format: "table" or "json"
format: table

store:
  lock_timeout_ms: 5000    # Advisory lock acquisition deadline

session:
  max_iterations: 5        # Execute-verify retry budget

mailbox:
  poll_timeout_ms: 30000   # Default poll wait
  poll_interval_ms: 500    # Recheck tick while waiting

swarm:
  max_workers: 0           # 0 = unbounded
  session_prefix: ultrawork
  # Typed into each worker pane after spawn. Placeholders:
  #   {project} {team} {worker} {role} {worktree}
  # worker_command: claude --role {role}
  use_worktree: false

cleanup:
  older_than_days: 7       # Default age threshold for pruning

# Tracing (spans per command, exported as JSONL by default)
tracing:
  enabled: false
  exporter: file           # none | file | stdout | otlp
  # file_path: /path/to/traces.jsonl   (default: <root>/logs/traces.jsonl)
  # otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}
