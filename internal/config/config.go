// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// File names inside DataDir. Both are part of the on-disk contract and
// must not change.
const (
	QueueFileName = "profiles_queue.json"
	PoolFileName  = "config_proxies.json"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT,required"`
	// DataDir holds the queue file and the pool config file.
	DataDir string `env:"DATA_DIR" envDefault:"data"`

	SteamAPIKey           string `env:"STEAM_API_KEY,required"`
	SteamAPIBaseURL       string `env:"STEAM_API_BASE_URL" envDefault:"https://api.steampowered.com"`
	SteamCommunityBaseURL string `env:"STEAM_COMMUNITY_BASE_URL" envDefault:"https://steamcommunity.com"`

	CollectorAPIKey string `env:"COLLECTOR_API_KEY,required"`
	// CollectorSubmitURL is the downstream write endpoint; account_id,
	// submitter and api_key are passed as query parameters.
	CollectorSubmitURL string `env:"COLLECTOR_SUBMIT_URL,required"`
	// CollectorExistsURL is the existence-check prefix; the account id is
	// path-concatenated onto it.
	CollectorExistsURL string `env:"COLLECTOR_EXISTS_URL,required"`

	IngressAPIKey string `env:"INGRESS_API_KEY,required"`

	// PoolDefaultCooldown is the fallback cooldown for connections when no
	// matrix entry applies; also persisted into new pool config files.
	PoolDefaultCooldown time.Duration `env:"POOL_DEFAULT_COOLDOWN" envDefault:"6h5m"`
	// ProxySeedFile optionally points at a YAML list of socks5 URLs used
	// to seed the pool when no pool config file exists yet.
	ProxySeedFile string `env:"PROXY_SEED_FILE"`
	// SimulatedPoolError forces an error class on pool-routed calls.
	// Valid values: 429, connection, socks. Testing hook; leave empty in
	// production.
	SimulatedPoolError string `env:"SIMULATED_POOL_ERROR"`

	WorkerItemDelay   time.Duration `env:"WORKER_ITEM_DELAY" envDefault:"350ms"`
	WorkerIdleDelay   time.Duration `env:"WORKER_IDLE_DELAY" envDefault:"5s"`
	PoolSweepInterval time.Duration `env:"POOL_SWEEP_INTERVAL" envDefault:"60s"`
	SmokeTestInterval time.Duration `env:"SMOKE_TEST_INTERVAL" envDefault:"15m"`
	// MinCallInterval is the process-wide gap enforced between any two
	// outbound calls to the account service.
	MinCallInterval time.Duration `env:"MIN_CALL_INTERVAL" envDefault:"1s"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"steam-vetter"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// QueueFilePath returns the full path of the durable queue file.
func (c Config) QueueFilePath() string {
	return filepath.Join(c.DataDir, QueueFileName)
}

// PoolFilePath returns the full path of the pool config file.
func (c Config) PoolFilePath() string {
	return filepath.Join(c.DataDir, PoolFileName)
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
