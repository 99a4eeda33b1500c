package backing

import (
	"context"
	"fmt"
	"path/filepath"
)

// Factory constructs a backing store for a repository type tag and source
// identifier. Resolving the source to a canonical absolute form is the
// factory's responsibility.
type Factory func(ctx context.Context, typ, source string) (Store, error)

// FactoryConfig carries the store-type options a factory needs beyond the
// (type, source) pair itself. Per-type options arrive as raw maps from the
// service configuration and are decoded by the store constructors.
type FactoryConfig struct {
	// S3 holds options for "s3" sources (region, credentials, endpoint...).
	S3 map[string]any
}

// NewFactory builds the default type-dispatch factory.
//
// Supported type tags:
//   - "null": placeholder store with no content, for mounts with no real
//     repository attached
//   - "hg": Mercurial repository reader
//   - "git": Git repository reader (loose objects)
//   - "s3": object reader over an S3 (or compatible) bucket
func NewFactory(cfg FactoryConfig) Factory {
	return func(ctx context.Context, typ, source string) (Store, error) {
		switch typ {
		case "null":
			return NewEmptyStore(), nil
		case "hg":
			repoPath, err := canonicalSource(source)
			if err != nil {
				return nil, err
			}
			return NewHgStore(repoPath)
		case "git":
			repoPath, err := canonicalSource(source)
			if err != nil {
				return nil, err
			}
			return NewGitStore(repoPath)
		case "s3":
			return NewS3Store(ctx, source, cfg.S3)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, typ)
		}
	}
}

// canonicalSource resolves a local repository path to its canonical absolute
// form so that two spellings of the same repository share one instance's
// local state.
func canonicalSource(source string) (string, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository path %q: %w", source, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repository path %q: %w", source, err)
	}
	return resolved, nil
}
