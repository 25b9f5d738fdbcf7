// Package config loads the synchronizer's settings via spf13/viper,
// the pack's configuration library, mirroring its
// GetString/GetPeerSettings accessor style but resolving everything up
// front into one typed Settings value instead of ad-hoc lookups spread
// across the call sites.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Network is the configured Bitcoin network. The synchronizer's
// address/transaction decoding (internal/chain, internal/address)
// needs only a mainnet/not-mainnet distinction — the network params
// structs the teacher's own libraries expose (go-sdk's
// transaction/chaincfg.Params, used by pkg/keyset) exist for key
// derivation, which this indexer never does, so Network stays a plain
// name instead of carrying one of those structs around unused.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// IsMainnet reports whether n is the production network, the only
// distinction internal/address's P2PKH encoding needs.
func (n Network) IsMainnet() bool {
	return n == Mainnet
}

// Settings is the synchronizer's resolved configuration (SPEC_FULL.md
// §6: network, Postgres DSN, NATS URL, node RPC/ZMQ URLs, retry/
// backoff tunables, data retention).
type Settings struct {
	Network Network

	Postgres Postgres
	NATS     NATS
	Node     Node
	Retry    Retry

	// DataRetention mirrors the pack's dataRetentionDays setting. No
	// code in this module reads it; BlockGaps takes its lookback as a
	// block count argument instead.
	DataRetention time.Duration
}

type Postgres struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type NATS struct {
	URL string
}

type Node struct {
	Host    string
	RPCPort int
	RPCUser string
	RPCPass string
	UseSSL  bool
	ZMQPort int
}

type Retry struct {
	BlockImportInterval time.Duration
	MempoolInterval     time.Duration
}

func getString(key string) (string, error) {
	v := viper.GetString(key)
	if v == "" {
		return "", fmt.Errorf("setting %s not found", key)
	}
	return v, nil
}

func getInt(key string) (int, error) {
	v := viper.GetInt(key)
	if v == 0 {
		return 0, fmt.Errorf("setting %s not found", key)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := viper.GetDuration(key)
	if v == 0 {
		return fallback
	}
	return v
}

// InitViper reads config.yaml from configDir (the pack's
// SetConfigName/SetConfigType/AddConfigPath/ReadInConfig sequence),
// then layers CHROMANODE_-prefixed environment overrides on top.
func InitViper(configDir string) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read config.yaml: %w", err)
	}

	viper.SetEnvPrefix("CHROMANODE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return nil
}

// Load resolves Settings from whatever viper has already read (a
// config file plus environment overrides set up by the caller, the
// same split the pack's cmd/ entrypoints leave to main()).
func Load() (*Settings, error) {
	network, err := getNetwork()
	if err != nil {
		return nil, err
	}

	dsn, err := getString("postgres.dsn")
	if err != nil {
		return nil, err
	}

	natsURL, err := getString("nats.url")
	if err != nil {
		return nil, err
	}

	nodeHost, err := getString("node.host")
	if err != nil {
		return nil, err
	}
	rpcPort, err := getInt("node.port.rpc")
	if err != nil {
		return nil, err
	}
	zmqPort, err := getInt("node.port.zmq")
	if err != nil {
		return nil, err
	}
	rpcUser, err := getString("node.rpc_user")
	if err != nil {
		return nil, err
	}
	rpcPass, err := getString("node.rpc_pass")
	if err != nil {
		return nil, err
	}

	return &Settings{
		Network: network,
		Postgres: Postgres{
			DSN:          dsn,
			MaxOpenConns: viper.GetInt("postgres.max_open_conns"),
			MaxIdleConns: viper.GetInt("postgres.max_idle_conns"),
		},
		NATS: NATS{URL: natsURL},
		Node: Node{
			Host:    nodeHost,
			RPCPort: rpcPort,
			RPCUser: rpcUser,
			RPCPass: rpcPass,
			UseSSL:  viper.GetBool("node.use_ssl"),
			ZMQPort: zmqPort,
		},
		Retry: Retry{
			BlockImportInterval: getDuration("retry.block_import_interval", 30*time.Second),
			MempoolInterval:     getDuration("retry.mempool_interval", 5*time.Second),
		},
		DataRetention: getDuration("data_retention", 28*24*time.Hour),
	}, nil
}

func getNetwork() (Network, error) {
	name, err := getString("network")
	if err != nil {
		return "", err
	}

	switch Network(name) {
	case Mainnet, Testnet, Regtest:
		return Network(name), nil
	default:
		return "", fmt.Errorf("unknown network: %s", name)
	}
}
