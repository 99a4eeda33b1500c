package server

import "context"

// Handler executes control requests. The daemon's core server implements
// this; the RPC layer stays free of mount semantics.
type Handler interface {
	// Mount attaches a working copy.
	Mount(ctx context.Context, req MountRequest) error

	// Unmount detaches the working copy mounted at path and waits for its
	// teardown to complete.
	Unmount(ctx context.Context, path string) error

	// ListMounts returns the currently attached working copies.
	ListMounts(ctx context.Context) []MountStatus

	// Status returns daemon-level status.
	Status(ctx context.Context) StatusInfo
}

// MountRequest names the client to attach.
type MountRequest struct {
	// MountPoint is the host path to mount at.
	MountPoint string `json:"mount_point"`

	// ClientDir is the client state directory holding the client's config.
	ClientDir string `json:"client_dir"`
}

// MountStatus describes one active mount.
type MountStatus struct {
	MountPoint    string `json:"mount_point"`
	LoadedCount   int64  `json:"loaded_count"`
	UnloadedCount int64  `json:"unloaded_count"`
}

// StatusInfo describes the daemon.
type StatusInfo struct {
	Pid        int      `json:"pid"`
	UptimeSecs int64    `json:"uptime_secs"`
	MountCount int      `json:"mount_count"`
	Counters   []string `json:"counters,omitempty"`
}
