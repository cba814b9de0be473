package config

import (
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de destaker.
type Config struct {
	Workflow WorkflowConfig                 `yaml:"workflow"`
	API      APIConfig                      `yaml:"api"`
	Server   ServerConfig                   `yaml:"server"`
	Storage  StorageConfig                  `yaml:"storage"`
	Log      LogConfig                      `yaml:"log"`
	Markets  []domain.MarketDefinition      `yaml:"markets"` // vacío = los 12 mercados por defecto
	Assets   map[string]domain.AssetPattern `yaml:"assets"`  // overrides sobre la tabla de patrones
}

// WorkflowConfig controla el batch, el ritmo de llamadas al clasificador y el fallback.
type WorkflowConfig struct {
	Schedule           string   `yaml:"schedule"` // cron con segundos
	MinCallIntervalMs  int      `yaml:"min_call_interval_ms"`
	RateLimitBackoffMs int      `yaml:"rate_limit_backoff_ms"`
	BackoffMultiplier  float64  `yaml:"backoff_multiplier"`
	MaxBackoffMs       int      `yaml:"max_backoff_ms"`
	CallTimeoutSeconds int      `yaml:"call_timeout_seconds"`
	FallbackConfidence float64  `yaml:"fallback_confidence"`
	MinTVLUSD          *float64 `yaml:"min_tvl_usd"` // filtro del flujo single-market; 0 lo desactiva
	PoolCacheSeconds   int      `yaml:"pool_cache_seconds"`
}

// APIConfig contiene los endpoints externos. La API key del clasificador solo llega por env.
type APIConfig struct {
	DefiLlamaPoolsURL string  `yaml:"defillama_pools_url"`
	ClassifierURL     string  `yaml:"classifier_url"`
	ClassifierModel   string  `yaml:"classifier_model"`
	PredictModel      string  `yaml:"predict_model"`
	ClassifierRPS     float64 `yaml:"classifier_rps"`
	EthRPCURL         string  `yaml:"eth_rpc_url"` // vacío desactiva la lectura on-chain

	ClassifierAPIKey string `yaml:"-"`
}

// ServerConfig controla la API HTTP.
type ServerConfig struct {
	Addr                  string   `yaml:"addr"`
	CORSOrigins           []string `yaml:"cors_origins"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"` // debe cubrir un batch completo
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Un path vacío o inexistente no es error: se usan los defaults.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// MinCallInterval es el intervalo mínimo entre llamadas al clasificador.
func (c *Config) MinCallInterval() time.Duration {
	return time.Duration(c.Workflow.MinCallIntervalMs) * time.Millisecond
}

// RateLimitBackoff es la espera inicial tras un 429.
func (c *Config) RateLimitBackoff() time.Duration {
	return time.Duration(c.Workflow.RateLimitBackoffMs) * time.Millisecond
}

// MaxBackoff es el techo del backoff exponencial.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Workflow.MaxBackoffMs) * time.Millisecond
}

// CallTimeout es el timeout por llamada al clasificador.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Workflow.CallTimeoutSeconds) * time.Second
}

// PoolCacheTTL es cuánto se reutiliza un fetch de pools.
func (c *Config) PoolCacheTTL() time.Duration {
	return time.Duration(c.Workflow.PoolCacheSeconds) * time.Second
}

// MinTVL es el TVL mínimo de los pools en el flujo single-market. 0 = sin filtro.
func (c *Config) MinTVL() float64 {
	if c.Workflow.MinTVLUSD == nil || *c.Workflow.MinTVLUSD < 0 {
		return 0
	}
	return *c.Workflow.MinTVLUSD
}

// RequestTimeout es el timeout de cada request HTTP.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLASSIFIER_API_KEY"); v != "" {
		cfg.API.ClassifierAPIKey = v
	} else if v := os.Getenv("LOVABLE_API_KEY"); v != "" {
		cfg.API.ClassifierAPIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DESTAKER_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("DESTAKER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("ETH_RPC_URL"); v != "" {
		cfg.API.EthRPCURL = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	w := &cfg.Workflow
	if w.Schedule == "" {
		w.Schedule = "0 */30 * * * *"
	}
	if w.MinCallIntervalMs <= 0 {
		w.MinCallIntervalMs = 1000
	}
	if w.RateLimitBackoffMs <= 0 {
		w.RateLimitBackoffMs = 5000
	}
	if w.BackoffMultiplier < 1 {
		w.BackoffMultiplier = 2
	}
	if w.MaxBackoffMs <= 0 {
		w.MaxBackoffMs = 30_000
	}
	if w.CallTimeoutSeconds <= 0 {
		w.CallTimeoutSeconds = 20
	}
	if w.FallbackConfidence <= 0 {
		w.FallbackConfidence = domain.DefaultFallbackConfidence
	}
	if w.MinTVLUSD == nil {
		minTVL := 1_000_000.0
		w.MinTVLUSD = &minTVL
	}
	if w.PoolCacheSeconds <= 0 {
		w.PoolCacheSeconds = 300
	}

	if cfg.API.DefiLlamaPoolsURL == "" {
		cfg.API.DefiLlamaPoolsURL = "https://yields.llama.fi/pools"
	}
	if cfg.API.ClassifierURL == "" {
		cfg.API.ClassifierURL = "https://ai.gateway.lovable.dev/v1/chat/completions"
	}
	if cfg.API.ClassifierModel == "" {
		cfg.API.ClassifierModel = "google/gemini-2.5-flash-lite"
	}
	if cfg.API.PredictModel == "" {
		cfg.API.PredictModel = "google/gemini-3-flash-preview"
	}
	if cfg.API.ClassifierRPS <= 0 {
		cfg.API.ClassifierRPS = 1
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RequestTimeoutSeconds <= 0 {
		cfg.Server.RequestTimeoutSeconds = 300
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "destaker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = domain.DefaultMarkets
	}
}

func (c *Config) validate() error {
	if c.Workflow.FallbackConfidence > 1 {
		return fmt.Errorf("workflow.fallback_confidence must be in (0, 1], got %g", c.Workflow.FallbackConfidence)
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.ID == "" || m.Asset == "" {
			return fmt.Errorf("markets[%d]: id and asset are required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("markets[%d]: duplicate id %q", i, m.ID)
		}
		seen[m.ID] = true
		if m.SettlementDate != "" {
			if _, ok := m.SettlesAt(); !ok {
				return fmt.Errorf("markets[%d]: invalid settlement_date %q", i, m.SettlementDate)
			}
		}
	}
	return nil
}
