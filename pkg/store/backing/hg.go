package backing

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// HgStore reads content out of a local Mercurial repository by delegating to
// the hg executable, which owns the revlog format.
//
// Object IDs take the form "<revision>:<repo-relative path>".
type HgStore struct {
	repoPath string
}

// NewHgStore creates a store over the Mercurial repository at repoPath.
func NewHgStore(repoPath string) (*HgStore, error) {
	if _, err := os.Stat(filepath.Join(repoPath, ".hg")); err != nil {
		return nil, fmt.Errorf("%q does not look like a mercurial repository: %w", repoPath, err)
	}
	return &HgStore{repoPath: repoPath}, nil
}

func (s *HgStore) Type() string   { return "hg" }
func (s *HgStore) Source() string { return s.repoPath }

func (s *HgStore) Get(ctx context.Context, id ObjectID) ([]byte, error) {
	rev, path, ok := strings.Cut(string(id), ":")
	if !ok || rev == "" || path == "" {
		return nil, fmt.Errorf("malformed hg object id %q: %w", id, ErrObjectNotFound)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "hg", "cat", "-r", rev, path)
	cmd.Dir = s.repoPath
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			return nil, fmt.Errorf("hg cat -r %s %s: %s: %w",
				rev, path, strings.TrimSpace(stderr.String()), ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to run hg: %w", err)
	}

	return stdout.Bytes(), nil
}
