// Package config provides configuration management for synapse.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/synapse/internal/physics"
)

const (
	// DefaultPort is the default HTTP port for the canvas service.
	DefaultPort = 8000

	// DefaultLLMProvider selects the local ollama server for naming and embeddings.
	DefaultLLMProvider = "ollama"

	// DefaultLLMModel names clusters when LLM naming is requested.
	DefaultLLMModel = "llama3.2"

	// DefaultEmbeddingModel embeds items created through the API.
	DefaultEmbeddingModel = "nomic-embed-text"

	// DefaultLLMBaseURL is the local ollama endpoint.
	DefaultLLMBaseURL = "http://localhost:11434"
)

// DefaultAllowedOrigins are the browser origins allowed for CORS and websockets.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// Config holds the application configuration.
type Config struct {
	// Server settings
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	APIToken       string   `json:"-"`
	LogLevel       string   `json:"log_level"`

	// Database settings. DatabaseDSN selects PostgreSQL; otherwise DBPath is
	// opened with SQLite.
	DatabaseDSN string `json:"-"`
	DBPath      string `json:"db_path"`
	MaxConns    int    `json:"max_conns"`

	// Realtime settings
	TickInterval time.Duration `json:"tick_interval"`
	SendBuffer   int           `json:"send_buffer"`
	CursorRate   float64       `json:"cursor_rate"`
	CursorBurst  int           `json:"cursor_burst"`

	// HTTP rate limiting per client IP
	RequestRate  float64 `json:"request_rate"`
	RequestBurst int     `json:"request_burst"`

	// Clustering settings
	ClusterTimeout  time.Duration `json:"cluster_timeout"`
	ClusterCooldown time.Duration `json:"cluster_cooldown"`

	// Periodic write-back of simulated positions; zero (default) disables it.
	CheckpointInterval time.Duration `json:"checkpoint_interval"`

	// LLM settings (cluster naming and embeddings)
	LLMProvider      string `json:"llm_provider"`
	LLMModel         string `json:"llm_model"`
	EmbeddingModel   string `json:"embedding_model"`
	LLMBaseURL       string `json:"llm_base_url"`
	OpenAIAPIKey     string `json:"-"`
	NamerTokenBudget int    `json:"namer_token_budget"`

	// Physics tunables, hot reloadable from the settings file.
	Physics physics.Config `json:"physics"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.synapse), or SYNAPSE_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("SYNAPSE_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".synapse")
}

// DBPath returns the SQLite database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "synapse.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "SYNAPSE_PORT": 8000,
  "SYNAPSE_LLM_PROVIDER": "ollama",
  "SYNAPSE_TICK_INTERVAL_MS": 33,
  "SYNAPSE_PHYSICS_GRAVITY_STRENGTH": 5000,
  "SYNAPSE_PHYSICS_SIMILARITY_THRESHOLD": 0.7
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		AllowedOrigins:   append([]string(nil), DefaultAllowedOrigins...),
		LogLevel:         "info",
		DBPath:           DBPath(),
		MaxConns:         4,
		TickInterval:     33 * time.Millisecond,
		SendBuffer:       256,
		CursorRate:       30,
		CursorBurst:      60,
		RequestRate:      50,
		RequestBurst:     100,
		ClusterTimeout:   60 * time.Second,
		LLMProvider:      DefaultLLMProvider,
		LLMModel:         DefaultLLMModel,
		EmbeddingModel:   DefaultEmbeddingModel,
		LLMBaseURL:       DefaultLLMBaseURL,
		NamerTokenBudget: 512,
		Physics:          physics.DefaultConfig(),
	}
}

// Load reads the settings file over the defaults, then applies environment
// overrides. A missing settings file is not an error.
func Load() (*Config, error) {
	return LoadFrom(SettingsPath())
}

// LoadFrom is Load with an explicit settings path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	settings, err := readSettings(path)
	if err != nil {
		return nil, err
	}
	cfg.apply(settingsLookup(settings))
	cfg.apply(os.LookupEnv)
	return cfg, nil
}

// LoadPhysics reads only the physics tunables from a settings file, on top of
// base. Used for hot reload.
func LoadPhysics(path string, base physics.Config) (physics.Config, error) {
	settings, err := readSettings(path)
	if err != nil {
		return base, err
	}
	cfg := &Config{Physics: base}
	cfg.applyPhysics(settingsLookup(settings))
	cfg.applyPhysics(os.LookupEnv)
	return cfg.Physics, nil
}

func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		// Defaults on parse error, same as a missing file.
		return nil, nil
	}
	return settings, nil
}

// lookupFunc has the shape of os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// settingsLookup renders settings file values as strings so the file and the
// environment share one parser.
func settingsLookup(settings map[string]any) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := settings[key]
		if !ok || v == nil {
			return "", false
		}
		switch t := v.(type) {
		case string:
			return t, true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(t), true
		case []any:
			parts := make([]string, 0, len(t))
			for _, p := range t {
				if s, ok := p.(string); ok {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, ","), true
		}
		return "", false
	}
}

func (c *Config) apply(lookup lookupFunc) {
	if v, ok := lookupInt(lookup, "SYNAPSE_PORT"); ok && v > 0 {
		c.Port = v
	}
	if v, ok := lookup("SYNAPSE_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitTrim(v)
	}
	if v, ok := lookup("SYNAPSE_API_TOKEN"); ok {
		c.APIToken = v
	}
	if v, ok := lookup("SYNAPSE_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("SYNAPSE_DATABASE_DSN"); ok {
		c.DatabaseDSN = v
	}
	if v, ok := lookup("SYNAPSE_DB_PATH"); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_MAX_CONNS"); ok && v > 0 {
		c.MaxConns = v
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_TICK_INTERVAL_MS"); ok && v > 0 {
		c.TickInterval = time.Duration(v) * time.Millisecond
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_SEND_BUFFER"); ok && v > 0 {
		c.SendBuffer = v
	}
	if v, ok := lookupFloat(lookup, "SYNAPSE_CURSOR_RATE"); ok && v > 0 {
		c.CursorRate = v
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_CURSOR_BURST"); ok && v > 0 {
		c.CursorBurst = v
	}
	if v, ok := lookupFloat(lookup, "SYNAPSE_REQUEST_RATE"); ok && v > 0 {
		c.RequestRate = v
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_REQUEST_BURST"); ok && v > 0 {
		c.RequestBurst = v
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_CLUSTER_TIMEOUT_SECONDS"); ok && v > 0 {
		c.ClusterTimeout = time.Duration(v) * time.Second
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_CLUSTER_COOLDOWN_SECONDS"); ok && v >= 0 {
		c.ClusterCooldown = time.Duration(v) * time.Second
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_CHECKPOINT_INTERVAL_SECONDS"); ok && v >= 0 {
		c.CheckpointInterval = time.Duration(v) * time.Second
	}
	if v, ok := lookup("SYNAPSE_LLM_PROVIDER"); ok {
		c.LLMProvider = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup("SYNAPSE_LLM_MODEL"); ok && v != "" {
		c.LLMModel = v
	}
	if v, ok := lookup("SYNAPSE_EMBEDDING_MODEL"); ok && v != "" {
		c.EmbeddingModel = v
	}
	if v, ok := lookup("SYNAPSE_LLM_BASE_URL"); ok && v != "" {
		c.LLMBaseURL = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok {
		c.OpenAIAPIKey = v
	}
	if v, ok := lookup("SYNAPSE_OPENAI_API_KEY"); ok && v != "" {
		c.OpenAIAPIKey = v
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_NAMER_TOKEN_BUDGET"); ok && v > 0 {
		c.NamerTokenBudget = v
	}
	c.applyPhysics(lookup)
}

// applyPhysics maps SYNAPSE_PHYSICS_* keys. Range checks are left to the
// engine, which replaces invalid values with defaults.
func (c *Config) applyPhysics(lookup lookupFunc) {
	floats := map[string]*float64{
		"SYNAPSE_PHYSICS_GRAVITY_STRENGTH":        &c.Physics.GravityStrength,
		"SYNAPSE_PHYSICS_REPULSION_STRENGTH":      &c.Physics.RepulsionStrength,
		"SYNAPSE_PHYSICS_SIMILARITY_THRESHOLD":    &c.Physics.SimilarityThreshold,
		"SYNAPSE_PHYSICS_MAX_ATTRACTION_DISTANCE": &c.Physics.MaxAttractionDistance,
		"SYNAPSE_PHYSICS_MIN_REPULSION_DISTANCE":  &c.Physics.MinRepulsionDistance,
		"SYNAPSE_PHYSICS_DAMPING":                 &c.Physics.Damping,
		"SYNAPSE_PHYSICS_MAX_VELOCITY":            &c.Physics.MaxVelocity,
		"SYNAPSE_PHYSICS_TIME_STEP":               &c.Physics.TimeStep,
		"SYNAPSE_PHYSICS_SCALE_FACTOR":            &c.Physics.ScaleFactor,
		"SYNAPSE_PHYSICS_REST_SPEED":              &c.Physics.RestSpeed,
		"SYNAPSE_PHYSICS_PLACEMENT_JITTER":        &c.Physics.PlacementJitter,
	}
	for key, dst := range floats {
		if v, ok := lookupFloat(lookup, key); ok {
			*dst = v
		}
	}
	if v, ok := lookupInt(lookup, "SYNAPSE_PHYSICS_PLACEMENT_NEIGHBORS"); ok {
		c.Physics.PlacementNeighbors = v
	}
}

func lookupInt(lookup lookupFunc, key string) (int, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

func lookupFloat(lookup lookupFunc, key string) (float64, bool) {
	v, ok := lookup(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// splitTrim splits a comma-separated string and trims whitespace.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
