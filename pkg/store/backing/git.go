package backing

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// GitStore reads content out of a local Git repository's object database.
//
// Object IDs are hex SHA-1 object names. Only loose objects are resolved;
// content that has been repacked is reported as not found, which callers
// treat the same as any other cache miss against the backing repository.
type GitStore struct {
	repoPath   string
	objectsDir string
}

// NewGitStore creates a store over the repository at repoPath. The path must
// contain a .git directory or itself be a bare repository.
func NewGitStore(repoPath string) (*GitStore, error) {
	objectsDir := filepath.Join(repoPath, ".git", "objects")
	if _, err := os.Stat(objectsDir); err != nil {
		// Bare repository layout.
		bare := filepath.Join(repoPath, "objects")
		if _, bareErr := os.Stat(bare); bareErr != nil {
			return nil, fmt.Errorf("%q does not look like a git repository: %w", repoPath, err)
		}
		objectsDir = bare
	}

	return &GitStore{
		repoPath:   repoPath,
		objectsDir: objectsDir,
	}, nil
}

func (s *GitStore) Type() string   { return "git" }
func (s *GitStore) Source() string { return s.repoPath }

func (s *GitStore) Get(ctx context.Context, id ObjectID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := string(id)
	if len(name) < 3 {
		return nil, fmt.Errorf("malformed git object id %q: %w", name, ErrObjectNotFound)
	}

	path := filepath.Join(s.objectsDir, name[:2], name[2:])
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", name, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", name, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress object %s: %w", name, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", name, err)
	}

	// Loose objects are "<type> <size>\x00<content>".
	sep := bytes.IndexByte(raw, 0)
	if sep < 0 {
		return nil, fmt.Errorf("object %s has no header", name)
	}
	return raw[sep+1:], nil
}
