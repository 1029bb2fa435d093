package shared

import (
	"encoding/json"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/tailscale/hujson"
)

const (
	configVarName  = "CONFIG"                // If set, will load config from this path and not from devConfigPath
	secretsVarName = "SECRETS"               // If set, will load secrets from this path and not from devSecretsPath
	devConfigPath  = "dev/config.dev.jsonc"  // Path to config in development environment
	devSecretsPath = "dev/secrets.dev.jsonc" // Path to secrets in development environment

	defaultPeerCacheSeconds   = 180
	defaultPeerTimeoutSeconds = 5
	defaultFeedFanoutWorkers  = 4
	defaultPageSize           = 20
)

// Peer is one statically configured remote instance: base service address
// plus the basic-auth credentials our requests carry.
type Peer struct {
	ServiceAddress string `json:"service_address" validate:"required,url"`
	Username       string `json:"username" validate:"required"`
	Password       string `json:"password" validate:"required"`
}

type Config struct {
	Secrets            Secrets `json:"-"`
	LogFile            string  `json:"log_file" validate:"required"`
	LogLevel           string  `json:"log_level"`
	ServicePort        uint    `json:"service_port" validate:"required"`
	Host               string  `json:"host" validate:"required,hostname"`
	DbFile             string  `json:"db_file" validate:"required"`
	PageSize           int     `json:"page_size" validate:"min=0"`
	PeerCacheSeconds   int     `json:"peer_cache_seconds" validate:"min=0"`
	PeerTimeoutSeconds int     `json:"peer_timeout_seconds" validate:"min=0"`
	FeedFanoutWorkers  int     `json:"feed_fanout_workers" validate:"min=0"`
	Peers              []Peer  `json:"peers" validate:"dive"`
}

// FedUser is one inbound basic-auth credential a peer may present.
type FedUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Secrets struct {
	ApiKeys     []string  `json:"api_keys"`
	MetricsAuth string    `json:"metrics_auth"`
	FedUsers    []FedUser `json:"fed_users"`
}

func LoadConfig() *Config {

	// Where are our config and secrets files?
	cfgPath := os.Getenv(configVarName)
	if len(cfgPath) == 0 {
		cfgPath = devConfigPath
	}
	secretsPath := os.Getenv(secretsVarName)
	if len(secretsPath) == 0 {
		secretsPath = devSecretsPath
	}

	// Read config file
	var config Config
	mustDeserializeFile(cfgPath, &config)
	// Read secrets member from secrets file
	mustDeserializeFile(secretsPath, &config.Secrets)

	config.ApplyDefaults()

	if err := validator.New().Struct(&config); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return &config
}

// ApplyDefaults fills in the optional tuning knobs left at zero.
func (cfg *Config) ApplyDefaults() {
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.PeerCacheSeconds == 0 {
		cfg.PeerCacheSeconds = defaultPeerCacheSeconds
	}
	if cfg.PeerTimeoutSeconds == 0 {
		cfg.PeerTimeoutSeconds = defaultPeerTimeoutSeconds
	}
	if cfg.FeedFanoutWorkers == 0 {
		cfg.FeedFanoutWorkers = defaultFeedFanoutWorkers
	}
}

func mustDeserializeFile[T any](fileName string, obj *T) {
	var err error
	var cfgJson []byte
	cfgJson, err = os.ReadFile(fileName)
	if err != nil {
		log.Fatal(err)
	}
	// JSONC => JSON
	cfgJson, err = standardizeJSON(cfgJson)
	if err != nil {
		log.Fatal(err)
	}
	// Parse
	if err := json.Unmarshal(cfgJson, obj); err != nil {
		log.Fatal(err)
	}
}

func standardizeJSON(b []byte) ([]byte, error) {
	ast, err := hujson.Parse(b)
	if err != nil {
		return b, err
	}
	ast.Standardize()
	return ast.Pack(), nil
}
