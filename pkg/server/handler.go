package server

import (
	"context"
	"os"
	"sort"
	"time"

	ctlserver "github.com/sourcefs/sourcefs/internal/server"
)

// controlHandler adapts the Server to the control RPC surface.
type controlHandler struct {
	server *Server
}

var _ ctlserver.Handler = (*controlHandler)(nil)

func (h *controlHandler) Mount(ctx context.Context, req ctlserver.MountRequest) error {
	return h.server.Mount(ctx, req.MountPoint, req.ClientDir)
}

func (h *controlHandler) Unmount(ctx context.Context, path string) error {
	return h.server.Unmount(ctx, path)
}

func (h *controlHandler) ListMounts(ctx context.Context) []ctlserver.MountStatus {
	snapshot := h.server.mounts.Snapshot()
	statuses := make([]ctlserver.MountStatus, 0, len(snapshot))
	for _, se := range snapshot {
		statuses = append(statuses, ctlserver.MountStatus{
			MountPoint:    se.Path,
			LoadedCount:   se.Entry.Mount.LoadedCount(),
			UnloadedCount: se.Entry.Mount.UnloadedCount(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].MountPoint < statuses[j].MountPoint
	})
	return statuses
}

func (h *controlHandler) Status(ctx context.Context) ctlserver.StatusInfo {
	return ctlserver.StatusInfo{
		Pid:        os.Getpid(),
		UptimeSecs: int64(time.Since(h.server.startTime) / time.Second),
		MountCount: h.server.mounts.Count(),
		Counters:   h.server.stats.Names(),
	}
}
