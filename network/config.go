package network

import "fmt"

// RPCConfig holds the connection parameters for a bitcoind JSON-RPC interface.
type RPCConfig struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Network  string `json:"network"`

	// Rate caps outgoing requests per second. Zero disables the limit.
	Rate int `json:"rate"`
}

// NetworkPresets contains default RPC endpoints for known networks.
// Mainnet is omitted to require explicit configuration.
var NetworkPresets = map[string]RPCConfig{
	"regtest":  {URL: "http://localhost:18443"},
	"testnet":  {URL: "http://localhost:18332"},
	"testnet3": {URL: "http://localhost:18332"},
	"signet":   {URL: "http://localhost:38332"},
}

// Environment variables consulted by ResolveConfig.
const (
	EnvRPCURL  = "BTCRELAY_RPC_URL"
	EnvRPCUser = "BTCRELAY_RPC_USER"
	EnvRPCPass = "BTCRELAY_RPC_PASS"
)

// ResolveConfig merges RPC configuration from three sources with decreasing priority:
//  1. flags (highest priority)
//  2. environment variables (BTCRELAY_RPC_URL, BTCRELAY_RPC_USER, BTCRELAY_RPC_PASS)
//  3. network presets (lowest priority, non-mainnet only)
func ResolveConfig(flags *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}

	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if env != nil {
		if v, ok := env[EnvRPCURL]; ok && v != "" {
			result.URL = v
		}
		if v, ok := env[EnvRPCUser]; ok && v != "" {
			result.User = v
		}
		if v, ok := env[EnvRPCPass]; ok && v != "" {
			result.Password = v
		}
	}

	if flags != nil {
		if flags.URL != "" {
			result.URL = flags.URL
		}
		if flags.User != "" {
			result.User = flags.User
		}
		if flags.Password != "" {
			result.Password = flags.Password
		}
		if flags.Rate > 0 {
			result.Rate = flags.Rate
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("network: %s requires explicit RPC configuration (set --rpc-url or %s)", network, EnvRPCURL)
	}

	return &result, nil
}
