package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

type ClientConfig struct {
	// PoolStreamURL is the websocket endpoint of a dexd server.
	PoolStreamURL string `yaml:"pool_stream_url"`
	// RPCURL is used for one-shot calls; it defaults to PoolStreamURL.
	RPCURL string `yaml:"rpc_url"`
	// PrivateKey is a hex secp256k1 key used by the console to sign requests.
	PrivateKey string `yaml:"private_key"`
}

// LoadConfig reads a configuration file from the given path and unmarshals it
// into a ClientConfig struct.
func LoadConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.PoolStreamURL == "" {
		return nil, errors.New("config: pool_stream_url is required")
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = cfg.PoolStreamURL
	}

	return &cfg, nil
}
