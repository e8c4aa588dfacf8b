// Package config loads the bridge configuration from a TOML file with
// environment overrides for secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
	"github.com/vitwit/xrpfi/types"
)

// Duration decodes TOML strings such as "15s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

const (
	ExecutionModeDirect       = "direct"
	ExecutionModeSmartAccount = "smart_account"
)

type Config struct {
	SourceNetwork      types.Network  `toml:"source_network"`
	DestinationNetwork types.Network  `toml:"destination_network"`
	Log                LogConfig      `toml:"log"`
	HTTP               HTTPConfig     `toml:"http"`
	Database           DatabaseConfig `toml:"database"`
	Redis              RedisConfig    `toml:"redis"`
	XRPL               XRPLConfig     `toml:"xrpl"`
	Flare              FlareConfig    `toml:"flare"`
	Vaults             []VaultConfig  `toml:"vaults"`
	FDC                FDCConfig      `toml:"fdc"`
	Workers            WorkerConfig   `toml:"workers"`
	Metrics            MetricsConfig  `toml:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	SeenTTL  Duration `toml:"seen_ttl"`
}

type XRPLConfig struct {
	WSURL           string   `toml:"ws_url"`
	OperatorAddress string   `toml:"operator_address"`
	PingInterval    Duration `toml:"ping_interval"`
	MinBackoff      Duration `toml:"min_backoff"`
	MaxBackoff      Duration `toml:"max_backoff"`
}

type FlareConfig struct {
	RPCURL                  string   `toml:"rpc_url"`
	ChainID                 int64    `toml:"chain_id"`
	OperatorPrivateKey      string   `toml:"operator_private_key"`
	ContractRegistry        string   `toml:"contract_registry"`
	MasterAccountController string   `toml:"master_account_controller"`
	FXRPToken               string   `toml:"fxrp_token"`
	ConfirmTimeout          Duration `toml:"confirm_timeout"`
	ExecutionMode           string   `toml:"execution_mode"`
}

// VaultConfig binds a vault contract to the instruction kind that targets it.
type VaultConfig struct {
	ID      uint32 `toml:"id"`
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Address string `toml:"address"`
	APY     string `toml:"apy"`
	Risk    string `toml:"risk"`
}

type FDCConfig struct {
	VerifierURL       string   `toml:"verifier_url"`
	VerifierAPIKey    string   `toml:"verifier_api_key"`
	DALayerURL        string   `toml:"da_layer_url"`
	AttestationType   string   `toml:"attestation_type"`
	SourceID          string   `toml:"source_id"`
	RequestFeeWei     string   `toml:"request_fee_wei"`
	InitialDelay      Duration `toml:"initial_delay"`
	RetryInterval     Duration `toml:"retry_interval"`
	MaxRetries        int      `toml:"max_retries"`
	ProofInitialWait  Duration `toml:"proof_initial_wait"`
	ProofPollInterval Duration `toml:"proof_poll_interval"`
	RoundWindow       int      `toml:"round_window"`
	RoundCheckDelay   Duration `toml:"round_check_delay"`
	MaxWait           Duration `toml:"max_wait"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

type WorkerConfig struct {
	Count       int      `toml:"count"`
	QueueSize   int      `toml:"queue_size"`
	TaskTimeout Duration `toml:"task_timeout"`
	// SweepInterval is how often pending records are re-queued.
	SweepInterval Duration `toml:"sweep_interval"`
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Default returns the Coston2 / XRPL testnet configuration.
func Default() *Config {
	return &Config{
		SourceNetwork:      types.NetworkXRPLTestnet,
		DestinationNetwork: types.NetworkCoston2,
		Log:                LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Addr:           ":3001",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Database: DatabaseConfig{Path: "xrpfi.db"},
		Redis:    RedisConfig{SeenTTL: Duration(24 * time.Hour)},
		XRPL: XRPLConfig{
			WSURL:        "wss://s.altnet.rippletest.net:51233",
			PingInterval: Duration(30 * time.Second),
			MinBackoff:   Duration(time.Second),
			MaxBackoff:   Duration(30 * time.Second),
		},
		Flare: FlareConfig{
			RPCURL:                  "https://coston2-api.flare.network/ext/bc/C/rpc",
			ChainID:                 types.NetworkCoston2.ChainID(),
			ContractRegistry:        "0xaD67FE66660Fb8dFE9d6b1b4240d8650e30F6019",
			MasterAccountController: "0x3ab31E2d943d1E8F47B275605E50Ff107f2F8393",
			ConfirmTimeout:          Duration(2 * time.Minute),
			ExecutionMode:           ExecutionModeDirect,
		},
		Vaults: []VaultConfig{
			{ID: 1, Name: "Firelight", Kind: string(types.InstructionFirelight), Address: "0x91Bfe6A68aB035DFebb6A770FFfB748C03C0E40B", APY: "8.5", Risk: "low"},
			{ID: 2, Name: "Upshift", Kind: string(types.InstructionUpshift), APY: "12.3", Risk: "medium"},
		},
		FDC: FDCConfig{
			VerifierURL:       "https://fdc-verifiers-testnet.flare.network",
			DALayerURL:        "https://ctn2-data-availability.flare.network",
			AttestationType:   "Payment",
			SourceID:          types.NetworkXRPLTestnet.FDCSourceID(),
			RequestFeeWei:     "1000000000000000",
			InitialDelay:      Duration(10 * time.Second),
			RetryInterval:     Duration(10 * time.Second),
			MaxRetries:        5,
			ProofInitialWait:  Duration(60 * time.Second),
			ProofPollInterval: Duration(15 * time.Second),
			RoundWindow:       5,
			RoundCheckDelay:   Duration(500 * time.Millisecond),
			MaxWait:           Duration(300 * time.Second),
			RequestsPerSecond: 2,
		},
		Workers: WorkerConfig{
			Count:         4,
			QueueSize:     64,
			TaskTimeout:   Duration(15 * time.Minute),
			SweepInterval: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "xrpfi"},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyEnv() {
	setString(&c.XRPL.OperatorAddress, "XRPL_OPERATOR_ADDRESS")
	setString(&c.XRPL.WSURL, "XRPL_WS_URL")
	setString(&c.Flare.OperatorPrivateKey, "FLARE_OPERATOR_PRIVATE_KEY")
	setString(&c.Flare.RPCURL, "FLARE_RPC_URL")
	setString(&c.Flare.FXRPToken, "FXRP_TOKEN_ADDRESS")
	setString(&c.FDC.VerifierURL, "FDC_VERIFIER_URL")
	setString(&c.FDC.VerifierAPIKey, "FDC_VERIFIER_API_KEY")
	setString(&c.FDC.DALayerURL, "DA_LAYER_URL")
	setString(&c.Database.Path, "DATABASE_PATH")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers.Count = n
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks the settings every runtime component depends on.
func (c *Config) Validate() error {
	var problems []string

	if !c.SourceNetwork.IsXRPL() {
		problems = append(problems, fmt.Sprintf("source_network %q is not an XRPL network", c.SourceNetwork))
	}
	if !c.DestinationNetwork.IsEVM() {
		problems = append(problems, fmt.Sprintf("destination_network %q is not an EVM network", c.DestinationNetwork))
	}
	if c.XRPL.WSURL == "" {
		problems = append(problems, "xrpl.ws_url is required")
	}
	if c.Flare.RPCURL == "" {
		problems = append(problems, "flare.rpc_url is required")
	}
	for name, addr := range map[string]string{
		"flare.contract_registry":         c.Flare.ContractRegistry,
		"flare.master_account_controller": c.Flare.MasterAccountController,
		"flare.fxrp_token":                c.Flare.FXRPToken,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			problems = append(problems, fmt.Sprintf("%s %q is not a hex address", name, addr))
		}
	}
	switch c.Flare.ExecutionMode {
	case ExecutionModeDirect, ExecutionModeSmartAccount:
	default:
		problems = append(problems, fmt.Sprintf("flare.execution_mode %q must be %q or %q", c.Flare.ExecutionMode, ExecutionModeDirect, ExecutionModeSmartAccount))
	}

	seen := map[uint32]bool{}
	for _, v := range c.Vaults {
		if seen[v.ID] {
			problems = append(problems, fmt.Sprintf("duplicate vault id %d", v.ID))
		}
		seen[v.ID] = true
		if v.Address != "" && !common.IsHexAddress(v.Address) {
			problems = append(problems, fmt.Sprintf("vault %s address %q is not a hex address", v.Name, v.Address))
		}
	}

	if c.FDC.MaxRetries < 0 {
		problems = append(problems, "fdc.max_retries cannot be negative")
	}
	if c.FDC.RetryInterval <= 0 || c.FDC.ProofPollInterval <= 0 || c.FDC.MaxWait <= 0 {
		problems = append(problems, "fdc intervals must be positive")
	}
	if c.FDC.RoundWindow <= 0 {
		problems = append(problems, "fdc.round_window must be positive")
	}
	if c.Workers.Count <= 0 {
		problems = append(problems, "workers.count must be positive")
	}
	if c.Workers.QueueSize < 0 {
		problems = append(problems, "workers.queue_size cannot be negative")
	}

	if len(problems) > 0 {
		return types.NewError(types.ErrCodeConfigError, "invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireOperator checks the settings only a running bridge needs. Offline
// commands such as memo encoding work without them.
func (c *Config) RequireOperator() error {
	if c.XRPL.OperatorAddress == "" {
		return types.NewError(types.ErrCodeConfigError, "xrpl.operator_address is required (or XRPL_OPERATOR_ADDRESS)")
	}
	return nil
}

// VaultByKind returns the vault configured for an instruction kind.
func (c *Config) VaultByKind(kind types.InstructionType) (VaultConfig, bool) {
	for _, v := range c.Vaults {
		if v.Kind == string(kind) {
			return v, true
		}
	}
	return VaultConfig{}, false
}
