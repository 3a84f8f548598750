// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", \"regtest\", \"signet\", or \"simnet\")")

	// ErrInvalidListenAddr indicates the metrics listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrInvalidRPCURL indicates the node RPC endpoint is not a URL.
	ErrInvalidRPCURL = errors.New("config: invalid rpc url")

	// ErrInvalidRPCRate indicates a negative RPC request rate.
	ErrInvalidRPCRate = errors.New("config: rpc rate must not be negative")

	// ErrInvalidForkDepth indicates a zero maximum fork depth.
	ErrInvalidForkDepth = errors.New("config: max fork depth must be at least 1")

	// ErrInvalidPruneDepth indicates a prune depth that would drop headers
	// the difficulty rules still need.
	ErrInvalidPruneDepth = errors.New("config: prune depth must be 0 or at least one retarget interval")

	// ErrInvalidNumber indicates a numeric key holds something else.
	ErrInvalidNumber = errors.New("config: invalid number")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")
)
