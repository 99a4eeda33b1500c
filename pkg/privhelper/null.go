package privhelper

import "sync"

// NullClient is an in-process stand-in used when no helper binary is
// configured. Detach requests succeed without touching the kernel, which is
// what integration environments without real kernel mounts need.
type NullClient struct {
	mu        sync.Mutex
	unmounted []string
}

func NewNullClient() *NullClient {
	return &NullClient{}
}

func (c *NullClient) Unmount(path string) error {
	c.mu.Lock()
	c.unmounted = append(c.unmounted, path)
	c.mu.Unlock()
	return nil
}

func (c *NullClient) Stop() (ExitStatus, error) {
	return ExitStatus{}, nil
}

// Unmounted returns the paths detached so far.
func (c *NullClient) Unmounted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.unmounted))
	copy(out, c.unmounted)
	return out
}
