package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/tendermint/tendermint/libs/cli/flags"
	"github.com/tendermint/tendermint/libs/log"
	dbm "github.com/tendermint/tm-db"

	"github.com/spire-labs/poc-monorepo/app"
	"github.com/spire-labs/poc-monorepo/crypto"
)

var ErrMissingConfig = errors.New("missing required configuration")

const defaultLogLevel = "*:info"

func configFile() string {
	return filepath.Join(rootDir, "config", "config.toml")
}

func setDefaults() {
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)
	viper.SetDefault("BLOCK_TIME", 12)
	viper.SetDefault("BLOCK_NUM", 1)
	viper.SetDefault("DB_BACKEND", "goleveldb")
	viper.SetDefault("CHAIN_ID", 0)
	viper.SetDefault("HTTP_TIMEOUT", "10s")

	viper.SetDefault("ENFORCER_API_PORT", 5555)
	viper.SetDefault("BLOCK_SOURCE", string(app.BlockSourceLocal))
	viper.SetDefault("REGISTER", true)
	viper.SetDefault("REGISTER_DELAY", "10s")
	viper.SetDefault("ENFORCER_NAME", "enforcer")

	viper.SetDefault("GATEWAY_API_PORT", 5433)
	viper.SetDefault("TIP_TICKER", "ETH")
	viper.SetDefault("TIP_AMOUNT", 100)
	viper.SetDefault("GATEWAY_NONCE", 0)

	viper.SetDefault("BRIDGE_TICKER", "USDC")
	viper.SetDefault("BRIDGE_AMOUNT", 10)
}

// loadConfig reads <home>/config/config.toml when present. Environment
// variables always win.
func loadConfig() error {
	setDefaults()
	viper.AutomaticEnv()
	if _, err := os.Stat(configFile()); err != nil {
		return nil
	}
	viper.SetConfigFile(configFile())
	return viper.ReadInConfig()
}

func newLogger() (log.Logger, error) {
	logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	return flags.ParseLogLevel(viper.GetString("LOG_LEVEL"), logger, defaultLogLevel)
}

func requireString(key string) (string, error) {
	v := strings.TrimSpace(viper.GetString(key))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingConfig, key)
	}
	return v, nil
}

func requireAddress(key string) (common.Address, error) {
	v, err := requireString(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", key, v)
	}
	return common.HexToAddress(v), nil
}

// addressList parses a comma separated list. An unset key is an empty list.
func addressList(key string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(viper.GetString(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("%s: %q is not an address", key, part)
		}
		out = append(out, common.HexToAddress(part))
	}
	return out, nil
}

func uint16Value(key string) (uint16, error) {
	v := viper.GetInt(key)
	if v < 0 || v > 0xffff {
		return 0, fmt.Errorf("%s: %d does not fit 16 bits", key, v)
	}
	return uint16(v), nil
}

func loadSigner() (*crypto.Signer, error) {
	if file := viper.GetString("PRIVATE_KEY_FILE"); file != "" {
		return crypto.LoadSignerFile(file)
	}
	key, err := requireString("PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	return crypto.LoadSigner(key)
}

func openDB(name string) (dbm.DB, error) {
	switch backend := viper.GetString("DB_BACKEND"); backend {
	case "memdb":
		return dbm.NewMemDB(), nil
	case "goleveldb":
		dir := viper.GetString("DB")
		if dir == "" {
			dir = filepath.Join(rootDir, "data")
		}
		return dbm.NewGoLevelDB(name, dir)
	default:
		return nil, fmt.Errorf("DB_BACKEND: unsupported backend %q", backend)
	}
}

type chainConfig struct {
	Provider  string
	ChainID   uint64
	BlockTime time.Duration
	BlockNum  uint64
}

func loadChainConfig() (chainConfig, error) {
	provider, err := requireString("PROVIDER")
	if err != nil {
		return chainConfig{}, err
	}
	blockTime := time.Duration(viper.GetInt("BLOCK_TIME")) * time.Second
	if blockTime <= 0 {
		return chainConfig{}, fmt.Errorf("BLOCK_TIME must be positive")
	}
	return chainConfig{
		Provider:  provider,
		ChainID:   viper.GetUint64("CHAIN_ID"),
		BlockTime: blockTime,
		BlockNum:  viper.GetUint64("BLOCK_NUM"),
	}, nil
}

type enforcerConfig struct {
	chainConfig
	Port              int
	PreconferContract common.Address
	Heartbeat         []common.Address
	BlockSource       app.BlockSource
	Register          bool
	RegisterDelay     time.Duration
	GatewayURL        string
	Meta              struct {
		Name string
		URL  string
	}
}

func loadEnforcerConfig() (*enforcerConfig, error) {
	chainCfg, err := loadChainConfig()
	if err != nil {
		return nil, err
	}
	cfg := &enforcerConfig{
		chainConfig:   chainCfg,
		Port:          viper.GetInt("ENFORCER_API_PORT"),
		BlockSource:   app.BlockSource(viper.GetString("BLOCK_SOURCE")),
		Register:      viper.GetBool("REGISTER"),
		RegisterDelay: viper.GetDuration("REGISTER_DELAY"),
	}
	if cfg.BlockSource != app.BlockSourceLocal && cfg.BlockSource != app.BlockSourceGateway {
		return nil, fmt.Errorf("BLOCK_SOURCE: unknown source %q", cfg.BlockSource)
	}
	if cfg.PreconferContract, err = requireAddress("PRECONF_CONTRACT"); err != nil {
		return nil, err
	}
	if cfg.Heartbeat, err = addressList("HEARTBEAT_CONTRACTS"); err != nil {
		return nil, err
	}
	if cfg.Register {
		if cfg.GatewayURL, err = requireString("GATEWAY_IP"); err != nil {
			return nil, err
		}
		if cfg.Meta.URL, err = requireString("ENFORCER_URL"); err != nil {
			return nil, err
		}
		cfg.Meta.Name = viper.GetString("ENFORCER_NAME")
	}
	return cfg, nil
}

type gatewayConfig struct {
	chainConfig
	Port        int
	DatabaseURL string
	Election    common.Address
	Gateway     app.GatewayConfig
	Nonce       uint64
}

func loadGatewayConfig() (*gatewayConfig, error) {
	chainCfg, err := loadChainConfig()
	if err != nil {
		return nil, err
	}
	cfg := &gatewayConfig{
		chainConfig: chainCfg,
		Port:        viper.GetInt("GATEWAY_API_PORT"),
		DatabaseURL: viper.GetString("DATABASE_URL"),
		Nonce:       viper.GetUint64("GATEWAY_NONCE"),
	}
	if cfg.Election, err = requireAddress("ELECTION_CONTRACT"); err != nil {
		return nil, err
	}
	if cfg.Gateway.PreconferContract, err = requireAddress("PRECONF_CONTRACT"); err != nil {
		return nil, err
	}
	if cfg.Gateway.Rollups, err = addressList("ROLLUP_CONTRACTS"); err != nil {
		return nil, err
	}
	if cfg.Gateway.TipTicker, err = requireString("TIP_TICKER"); err != nil {
		return nil, err
	}
	if cfg.Gateway.TipAmount, err = uint16Value("TIP_AMOUNT"); err != nil {
		return nil, err
	}
	return cfg, nil
}

type proposerConfig struct {
	chainConfig
	SlashingA, SlashingB common.Address
	RollupA, RollupB     common.Address
	GenesisA, GenesisB   string
	Bridge               app.BridgeConfig
}

func loadProposerConfig() (*proposerConfig, error) {
	chainCfg, err := loadChainConfig()
	if err != nil {
		return nil, err
	}
	cfg := &proposerConfig{
		chainConfig: chainCfg,
		GenesisA:    viper.GetString("CHAIN_A_GENESIS"),
		GenesisB:    viper.GetString("CHAIN_B_GENESIS"),
	}
	for key, dst := range map[string]*common.Address{
		"CHAIN_A_SLASHING_CONTRACT_ADDRESS": &cfg.SlashingA,
		"CHAIN_B_SLASHING_CONTRACT_ADDRESS": &cfg.SlashingB,
		"CHAIN_A_SPVM_CONTRACT_ADDRESS":     &cfg.RollupA,
		"CHAIN_B_SPVM_CONTRACT_ADDRESS":     &cfg.RollupB,
	} {
		if *dst, err = requireAddress(key); err != nil {
			return nil, err
		}
	}
	if cfg.Bridge.Ticker, err = requireString("BRIDGE_TICKER"); err != nil {
		return nil, err
	}
	if cfg.Bridge.Amount, err = uint16Value("BRIDGE_AMOUNT"); err != nil {
		return nil, err
	}
	return cfg, nil
}
