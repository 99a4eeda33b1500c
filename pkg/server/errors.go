package server

import "fmt"

// UnmountError reports a privileged-helper unmount failure. The mount stays
// registered and serving when this is returned.
type UnmountError struct {
	Path string
	Err  error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("failed to unmount %q: %v", e.Path, e.Err)
}

func (e *UnmountError) Unwrap() error {
	return e.Err
}

// ConfigLoadError reports a failure to load or parse a configuration file
// during a mount attempt. No partial mount state exists when this is
// returned.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("failed to load configuration %q: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}
