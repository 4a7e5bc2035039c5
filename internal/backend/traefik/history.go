package traefik

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// History keeps every generated config revision in a local git repository,
// so an operator can diff what the controller wrote over time. Best-effort:
// a history failure never fails the flush that triggered it.
type History struct {
	dir  string
	repo *git.Repository
	log  *slog.Logger
}

// OpenHistory opens the history repository at dir, initializing it first if
// needed.
func OpenHistory(dir string, log *slog.Logger) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}

	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history repository: %w", err)
	}
	return &History{dir: dir, repo: repo, log: log}, nil
}

// Record copies the freshly written config into the history worktree and
// commits it if it changed.
func (h *History) Record(configPath string) {
	if err := h.record(configPath); err != nil {
		h.log.Warn("failed to record config history", "error", err)
	}
}

func (h *History) record(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	name := filepath.Base(configPath)
	if err := os.WriteFile(filepath.Join(h.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to copy config into history: %w", err)
	}

	wt, err := h.repo.Worktree()
	if err != nil {
		return err
	}
	if _, err := wt.Add(name); err != nil {
		return err
	}

	status, err := wt.Status()
	if err != nil {
		return err
	}
	if status.IsClean() {
		return nil
	}

	_, err = wt.Commit(fmt.Sprintf("update %s", name), &git.CommitOptions{
		Author: &object.Signature{
			Name:  "magicproxyd",
			Email: "magicproxyd@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit config revision: %w", err)
	}

	h.log.Debug("config revision recorded", "file", name)
	return nil
}
