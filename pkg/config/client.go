package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ClientConfig is the per-client (per working copy) configuration: which
// repository backs the mount and where it lives.
type ClientConfig struct {
	// MountPoint is the host path the working copy is mounted at.
	MountPoint string

	// ClientDir is the client state directory this config was loaded from.
	ClientDir string

	// RepoType is the repository type tag (null, hg, git, s3).
	RepoType string `mapstructure:"type"`

	// RepoSource is the repository source identifier.
	RepoSource string `mapstructure:"source"`

	// BindMounts are extra (source, target) directories exposed inside the
	// working copy after the filesystem workers start.
	BindMounts []BindMountConfig `mapstructure:"bind_mounts"`
}

// BindMountConfig describes one configured auxiliary mount.
type BindMountConfig struct {
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
}

// LoadClientConfig reads the client configuration stored in clientDir,
// using the already-reloaded service configuration as context.
//
// The client directory holds a config.yaml with a repository section:
//
//	repository:
//	  type: hg
//	  source: /data/repos/fbsource
func LoadClientConfig(mountPoint, clientDir string, serviceCfg *Config) (*ClientConfig, error) {
	path := filepath.Join(clientDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read client config %q: %w", path, err)
	}

	repo := v.Sub("repository")
	if repo == nil {
		return nil, fmt.Errorf("client config %q: repository section is required", path)
	}

	var cfg ClientConfig
	if err := repo.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client config %q: %w", path, err)
	}

	if cfg.RepoType == "" {
		return nil, fmt.Errorf("client config %q: repository.type is required", path)
	}

	if bindMounts := v.Get("bind_mounts"); bindMounts != nil {
		if err := v.UnmarshalKey("bind_mounts", &cfg.BindMounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bind mounts in %q: %w", path, err)
		}
	}

	cfg.MountPoint = mountPoint
	cfg.ClientDir = clientDir
	return &cfg, nil
}

// LoadClientDirectoryMap reads <dataDir>/config.json, the persisted mapping
// from mount path to client directory name under <dataDir>/clients/. It is
// replayed at startup to re-establish previously known mounts.
//
// Parsed with encoding/json rather than viper: mount paths are map keys and
// must stay case-exact, while viper normalizes key case.
func LoadClientDirectoryMap(dataDir string) (map[string]string, error) {
	path := filepath.Join(dataDir, "config.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read client directory map %q: %w", path, err)
	}

	var dirs map[string]string
	if err := json.Unmarshal(data, &dirs); err != nil {
		return nil, fmt.Errorf("failed to parse client directory map %q: %w", path, err)
	}
	return dirs, nil
}

// SaveClientDirectoryMap atomically rewrites <dataDir>/config.json. Each
// writer stages through its own temp file, so concurrent saves can only race
// at the rename and never publish an interleaved snapshot.
func SaveClientDirectoryMap(dataDir string, dirs map[string]string) error {
	path := filepath.Join(dataDir, "config.json")

	data, err := json.MarshalIndent(dirs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode client directory map: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dataDir, "config.json.tmp.*")
	if err != nil {
		return fmt.Errorf("failed to stage client directory map: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write client directory map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write client directory map: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write client directory map: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace client directory map: %w", err)
	}
	return nil
}

// ClientDirPath resolves a client directory name from the directory map to
// its absolute path under <dataDir>/clients. Absolute names are used as-is.
func ClientDirPath(dataDir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dataDir, "clients", name)
}
