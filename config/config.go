// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads, saves and validates the relay's settings.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bitfsorg/btcrelay-go/relay"
)

// Config holds the settings of a relay node. Field order is the order in
// which ValidateConfig reports problems.
type Config struct {
	DataDir     string `validate:"required"`
	Network     string `validate:"oneof=mainnet testnet testnet3 regtest signet simnet"`
	MetricsAddr string `validate:"omitempty,hostport"`
	LogLevel    string `validate:"loglevel"`
	LogFile     string

	RequiredConfirmations uint32
	MaxForkDepth          uint32 `validate:"gte=1"`
	PruneDepth            uint32

	RPCURL      string `validate:"omitempty,url"`
	RPCUser     string
	RPCPassword string
	RPCRate     int `validate:"gte=0"`
}

// DefaultDataDir returns ~/.btcrelay, or .btcrelay in the working directory
// when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".btcrelay"
	}
	return filepath.Join(home, ".btcrelay")
}

// DefaultConfig returns the settings used for keys a file leaves out.
func DefaultConfig() Config {
	return Config{
		DataDir:               DefaultDataDir(),
		Network:               "mainnet",
		MetricsAddr:           ":9100",
		LogLevel:              "info",
		RequiredConfirmations: 6,
		MaxForkDepth:          relay.DefaultMaxForkDepth,
		RPCURL:                "http://127.0.0.1:8332",
		RPCRate:               50,
	}
}

// ConfigPath returns the config file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config")
}

// JournalPath returns the header journal database path inside dataDir.
func JournalPath(dataDir string) string {
	return filepath.Join(dataDir, "journal.db")
}

// Params resolves the consensus parameters of the configured network.
func (c Config) Params() (relay.Params, error) {
	p, err := relay.ParamsForNetwork(c.Network)
	if err != nil {
		return relay.Params{}, fmt.Errorf("%w: %w", ErrInvalidNetwork, err)
	}
	return p, nil
}

// RelayOptions returns the relay options the config controls.
func (c Config) RelayOptions() []relay.Option {
	return []relay.Option{
		relay.WithMaxForkDepth(c.MaxForkDepth),
		relay.WithPruneDepth(c.PruneDepth),
	}
}

// LoadConfig reads a key = value file. Blank lines and lines starting with
// '#' are skipped, unknown keys are ignored and missing keys keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", ErrInvalidConfigLine, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "datadir":
		c.DataDir = value
	case "network":
		c.Network = value
	case "metrics":
		c.MetricsAddr = value
	case "loglevel":
		c.LogLevel = value
	case "logfile":
		c.LogFile = value
	case "confirmations":
		return parseUint32(key, value, &c.RequiredConfirmations)
	case "maxforkdepth":
		return parseUint32(key, value, &c.MaxForkDepth)
	case "prunedepth":
		return parseUint32(key, value, &c.PruneDepth)
	case "rpcurl":
		c.RPCURL = value
	case "rpcuser":
		c.RPCUser = value
	case "rpcpassword":
		c.RPCPassword = value
	case "rpcrate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s = %q", ErrInvalidNumber, key, value)
		}
		c.RPCRate = n
	}
	return nil
}

func parseUint32(key, value string, dst *uint32) error {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: %s = %q", ErrInvalidNumber, key, value)
	}
	*dst = uint32(n)
	return nil
}

// parseKeyValue splits "key = value" on the first '='.
func parseKeyValue(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", ErrInvalidConfigLine
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", ErrInvalidConfigLine
	}
	return strings.ToLower(key), strings.TrimSpace(value), nil
}

// SaveConfig writes cfg to path, creating the parent directory. The file is
// readable by the owner only since it may hold the RPC password.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# BTC Relay Configuration\n\n")
	fmt.Fprintf(&b, "datadir = %s\n", cfg.DataDir)
	fmt.Fprintf(&b, "network = %s\n", cfg.Network)
	fmt.Fprintf(&b, "metrics = %s\n", cfg.MetricsAddr)
	fmt.Fprintf(&b, "loglevel = %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "logfile = %s\n", cfg.LogFile)
	b.WriteString("\n# Chain tracking\n")
	fmt.Fprintf(&b, "confirmations = %d\n", cfg.RequiredConfirmations)
	fmt.Fprintf(&b, "maxforkdepth = %d\n", cfg.MaxForkDepth)
	fmt.Fprintf(&b, "prunedepth = %d\n", cfg.PruneDepth)
	b.WriteString("\n# Node RPC\n")
	fmt.Fprintf(&b, "rpcurl = %s\n", cfg.RPCURL)
	fmt.Fprintf(&b, "rpcuser = %s\n", cfg.RPCUser)
	fmt.Fprintf(&b, "rpcpassword = %s\n", cfg.RPCPassword)
	fmt.Fprintf(&b, "rpcrate = %d\n", cfg.RPCRate)

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
