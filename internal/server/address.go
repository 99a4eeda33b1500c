package server

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ResolveListenAddress maps the configured control address to a network and
// address for net.Listen.
//
//   - empty: the default unix socket at <dataDir>/socket
//   - a bare port number: localhost TCP on that port
//   - an explicit host:port: TCP on that address
//   - anything else: a unix socket at that path
func ResolveListenAddress(address, dataDir string) (network, addr string, err error) {
	if address == "" {
		if dataDir == "" {
			return "", "", fmt.Errorf("control address not set and no data directory to derive it from")
		}
		return "unix", filepath.Join(dataDir, "socket"), nil
	}

	if port, perr := strconv.Atoi(address); perr == nil {
		if port < 0 || port > 65535 {
			return "", "", fmt.Errorf("control port %d out of range", port)
		}
		return "tcp", fmt.Sprintf("127.0.0.1:%d", port), nil
	}

	// A host with a numeric port is TCP. Socket paths never qualify: a path
	// containing a colon still has a slash in the host part.
	if host, port, serr := net.SplitHostPort(address); serr == nil && host != "" && !strings.Contains(host, "/") {
		if p, perr := strconv.Atoi(port); perr == nil {
			if p < 0 || p > 65535 {
				return "", "", fmt.Errorf("control port %d out of range", p)
			}
			return "tcp", address, nil
		}
	}

	return "unix", address, nil
}

// removeStaleSocket unlinks a leftover socket file from a previous run. A
// socket that still accepts connections belongs to a live daemon and is left
// alone.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat socket %q: %w", path, err)
	}

	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %q is in use by another process", path)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale socket %q: %w", path, err)
	}
	return nil
}
