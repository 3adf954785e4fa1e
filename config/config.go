// Package config loads and saves the compiler configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config represents the compiler configuration
type Config struct {
	// Compiler settings
	Compiler struct {
		DefaultTarget string `toml:"default_target"` // used when -t is not given; empty picks by host
		KeepAsm       bool   `toml:"keep_asm"`       // keep the intermediate assembly file
	} `toml:"compiler"`

	// External toolchain commands
	Toolchain struct {
		Fasm  string `toml:"fasm"`  // flat assembler command
		As    string `toml:"as"`    // GNU assembler command
		Cc    string `toml:"cc"`    // C compiler used for linking
		Mingw string `toml:"mingw"` // cross C compiler for windows targets
		Wine  string `toml:"wine"`  // runner for windows binaries on other hosts
	} `toml:"toolchain"`

	// Linker settings
	Linker struct {
		Flags []string `toml:"flags"` // always appended to the link command
	} `toml:"linker"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Compiler.DefaultTarget = ""
	cfg.Compiler.KeepAsm = true

	cfg.Toolchain.Fasm = "fasm"
	cfg.Toolchain.As = "as"
	cfg.Toolchain.Cc = "cc"
	cfg.Toolchain.Mingw = "x86_64-w64-mingw32-gcc"
	cfg.Toolchain.Wine = "wine"

	cfg.Linker.Flags = nil

	return cfg
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "b")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Fallback to current directory
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "b")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		// If we can't create the directory, fall back to current directory
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file. A missing file is
// not an error; defaults are returned instead.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
