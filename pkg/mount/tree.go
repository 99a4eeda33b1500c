package mount

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// treeCounts tracks load activity across a mount's whole resource tree.
type treeCounts struct {
	loaded   atomic.Int64
	unloaded atomic.Int64
}

// TreeNode is one node of a mount's in-memory resource tree. Loaded nodes
// hold live state for a path inside the working copy; unloading a node drops
// that state so it gets refetched on next access.
type TreeNode struct {
	mu           sync.Mutex
	name         string
	children     map[string]*TreeNode
	loaded       bool
	materialized bool
	lastAccess   time.Time

	counts *treeCounts
}

func newRoot() *TreeNode {
	root := &TreeNode{
		name:     "/",
		children: make(map[string]*TreeNode),
		counts:   &treeCounts{},
	}
	root.markLoaded()
	return root
}

// Child returns the named child, creating and loading it if absent.
func (n *TreeNode) Child(name string) *TreeNode {
	n.mu.Lock()
	defer n.mu.Unlock()

	child, ok := n.children[name]
	if !ok {
		child = &TreeNode{
			name:     name,
			children: make(map[string]*TreeNode),
			counts:   n.counts,
		}
		child.markLoaded()
		n.children[name] = child
	}
	child.touch()
	return child
}

// Lookup returns the named child without creating it.
func (n *TreeNode) Lookup(name string) (*TreeNode, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	child, ok := n.children[name]
	return child, ok
}

// Materialized reports whether the node carries locally modified state.
func (n *TreeNode) Materialized() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.materialized
}

// UnloadChildren walks the subtree below n and unloads every loaded,
// non-materialized node whose last access is older than olderThan. It
// returns the number of nodes unloaded.
//
// The root itself is never unloaded.
func (n *TreeNode) UnloadChildren(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	return n.unloadBelow(cutoff)
}

func (n *TreeNode) unloadBelow(cutoff time.Time) int {
	n.mu.Lock()
	children := make([]*TreeNode, 0, len(n.children))
	for _, child := range n.children {
		children = append(children, child)
	}
	n.mu.Unlock()

	count := 0
	for _, child := range children {
		count += child.unloadBelow(cutoff)

		child.mu.Lock()
		if child.loaded && !child.materialized && len(child.children) == 0 && child.lastAccess.Before(cutoff) {
			child.loaded = false
			child.counts.loaded.Add(-1)
			child.counts.unloaded.Add(1)
			count++
		}
		child.mu.Unlock()
	}
	return count
}

// loadMaterialized scans the overlay directory and marks the corresponding
// tree paths as materialized so their state survives idle unloading.
func (n *TreeNode) loadMaterialized(ctx context.Context, overlayDir string) error {
	err := filepath.WalkDir(overlayDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == overlayDir {
			return nil
		}

		rel, err := filepath.Rel(overlayDir, path)
		if err != nil {
			return err
		}

		node := n
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			node = node.Child(part)
		}
		node.mu.Lock()
		node.materialized = true
		node.mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load materialized state from %q: %w", overlayDir, err)
	}
	return nil
}

// release drops the whole subtree. Used during mount teardown, after the
// kernel session is gone; counts reflect the remaining loaded nodes going
// away.
func (n *TreeNode) release() {
	n.mu.Lock()
	children := n.children
	n.children = make(map[string]*TreeNode)
	if n.loaded {
		n.loaded = false
		n.counts.loaded.Add(-1)
	}
	n.mu.Unlock()

	for _, child := range children {
		child.release()
	}
}

func (n *TreeNode) markLoaded() {
	n.loaded = true
	n.lastAccess = time.Now()
	n.counts.loaded.Add(1)
}

func (n *TreeNode) touch() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.loaded {
		n.loaded = true
		n.counts.loaded.Add(1)
	}
	n.lastAccess = time.Now()
}
