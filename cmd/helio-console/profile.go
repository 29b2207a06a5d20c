// ABOUTME: Per-user CLI profile persisted as TOML in the XDG config directory.
// ABOUTME: Remembers the last conversation so bare `chat` resumes where you left off.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Profile holds CLI state that should survive between runs but is not
// configuration: it is written by the tool, not the user.
type Profile struct {
	LastConversation string `toml:"last_conversation"`
}

func profilePath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "profile.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "helio", "profile.toml")
}

// loadProfile reads the profile; a missing file yields a zero profile.
func loadProfile() (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(profilePath(), &p); err != nil {
		if os.IsNotExist(err) {
			return &p, nil
		}
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return &p, nil
}

func saveProfile(p *Profile) error {
	path := profilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return nil
}
