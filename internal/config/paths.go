// Package config provides configuration management for vermuda.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv names the environment variable that overrides the VM home.
const HomeEnv = "VM_HOME"

// Paths holds the locations vermuda reads and writes.
type Paths struct {
	// Home is the VM home: $VM_HOME, or ~/.vm.
	Home string

	// ConfigFile is the TOML configuration file.
	ConfigFile string

	// EFIVariableStore persists firmware variables across boots.
	EFIVariableStore string

	// BootImage and RootImage are used when the configuration names no path.
	BootImage string
	RootImage string

	// LockFile guards the VM home against a second instance.
	LockFile string
}

// GetPaths returns the paths for the current VM home.
func GetPaths() (*Paths, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determine home directory: %w", err)
		}
		home = filepath.Join(userHome, ".vm")
	}
	return PathsFor(home), nil
}

// PathsFor returns the paths rooted at home.
func PathsFor(home string) *Paths {
	return &Paths{
		Home:             home,
		ConfigFile:       filepath.Join(home, "config.toml"),
		EFIVariableStore: filepath.Join(home, "efivars.bin"),
		BootImage:        filepath.Join(home, "boot.img"),
		RootImage:        filepath.Join(home, "disk.img"),
		LockFile:         filepath.Join(home, ".lock"),
	}
}

// EnsureDirectories creates the VM home if it doesn't exist.
func (p *Paths) EnsureDirectories() error {
	return os.MkdirAll(p.Home, 0755)
}
