// Package config handles platform configuration
package config

import (
	stderrors "errors"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// PathEnv names the config file when --config is not given.
const PathEnv = "EMOTALK_CONFIG"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Languages  LanguageConfig   `mapstructure:"languages"`
	Collection CollectionConfig `mapstructure:"collection"`
	Camera     CameraConfig     `mapstructure:"camera"`
	Microphone MicrophoneConfig `mapstructure:"microphone"`
	Providers  ProviderConfig   `mapstructure:"providers"`
	Store      StoreConfig      `mapstructure:"store"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPAddr          string        `mapstructure:"http_addr"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	RateLimitMessages int           `mapstructure:"rate_limit_messages"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type InferenceConfig struct {
	Addr             string        `mapstructure:"addr"`
	Timeout          time.Duration `mapstructure:"timeout"` // per provider call
	MaxRetries       int           `mapstructure:"max_retries"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset"`
}

type LanguageConfig struct {
	Supported     []string          `mapstructure:"supported"`
	DefaultSource string            `mapstructure:"default_source"`
	DefaultTarget string            `mapstructure:"default_target"`
	Voices        map[string]string `mapstructure:"voices"`
}

type CollectionConfig struct {
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
}

type CameraConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Device       string  `mapstructure:"device"`
	Rate         float64 `mapstructure:"rate"` // Hz
	HashDistance int     `mapstructure:"hash_distance"`
}

type MicrophoneConfig struct {
	SampleRate       int     `mapstructure:"sample_rate"`
	VAD              string  `mapstructure:"vad"` // energy | grpc
	EnergyThreshold  float64 `mapstructure:"energy_threshold"`
	SpeechThreshold  float64 `mapstructure:"speech_threshold"`
	MaxSilenceChunks int     `mapstructure:"max_silence_chunks"`
	MinSpeechChunks  int     `mapstructure:"min_speech_chunks"`
}

type ProviderConfig struct {
	Speech       string `mapstructure:"speech"`     // grpc | stub
	Translator   string `mapstructure:"translator"` // grpc | gemini | aws | stub
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model"`
	AWSRegion    string `mapstructure:"aws_region"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend"` // none | log | mongo | postgres
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDatabase string        `mapstructure:"mongo_database"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushDelay    time.Duration `mapstructure:"flush_delay"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaults = map[string]any{
	"server.http_addr":           ":8000",
	"server.allowed_origins":     []string{"*"},
	"server.read_limit":          8 << 20,
	"server.rate_limit_messages": 30,
	"server.rate_limit_window":   time.Second,

	"inference.addr":              "localhost:50051",
	"inference.timeout":           10 * time.Second,
	"inference.max_retries":       2,
	"inference.breaker_threshold": 5,
	"inference.breaker_reset":     30 * time.Second,

	"languages.supported":      []string{"en", "ko", "ja", "zh", "es", "fr", "de"},
	"languages.default_source": "en",
	"languages.default_target": "ko",
	"languages.voices": map[string]string{
		"en": "en-US-AriaNeural",
		"ko": "ko-KR-SunHiNeural",
		"ja": "ja-JP-NanamiNeural",
		"zh": "zh-CN-XiaoxiaoNeural",
		"es": "es-ES-ElviraNeural",
		"fr": "fr-FR-DeniseNeural",
		"de": "de-DE-KatjaNeural",
	},

	"collection.default_duration": 5 * time.Second,
	"collection.max_duration":     60 * time.Second,

	"camera.enabled":       false,
	"camera.device":        "/dev/video0",
	"camera.rate":          2.0,
	"camera.hash_distance": 5,

	"microphone.sample_rate":        16000,
	"microphone.vad":                "energy",
	"microphone.energy_threshold":   0.02,
	"microphone.speech_threshold":   0.5,
	"microphone.max_silence_chunks": 15,
	"microphone.min_speech_chunks":  3,

	"providers.speech":       "grpc",
	"providers.translator":   "grpc",
	"providers.gemini_model": "gemini-2.0-flash",
	"providers.aws_region":   "us-east-1",

	"store.backend":        "none",
	"store.mongo_uri":      "mongodb://localhost:27017",
	"store.mongo_database": "emotalk",
	"store.batch_size":     16,
	"store.flush_delay":    2 * time.Second,

	"log.level": "info",
}

// Short environment names kept for existing deployments.
var envAliases = map[string][]string{
	"server.http_addr":         {"SERVER_HTTP_ADDR", "HTTP_ADDR"},
	"inference.addr":           {"INFERENCE_ADDR"},
	"providers.gemini_api_key": {"PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY"},
	"providers.aws_region":     {"PROVIDERS_AWS_REGION", "AWS_REGION"},
	"store.mongo_uri":          {"STORE_MONGO_URI", "MONGO_URI"},
	"store.mongo_database":     {"STORE_MONGO_DATABASE", "DB_NAME"},
	"store.postgres_dsn":       {"STORE_POSTGRES_DSN", "DATABASE_URL"},
}

// Loader reads configuration from an optional YAML file and the environment.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader. An empty path falls back to $EMOTALK_CONFIG,
// then to ./emotalk.yaml if present.
func NewLoader(path string) *Loader {
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("emotalk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return &Loader{v: v, path: path}
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !stderrors.As(err, &notFound) {
			return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "read config")
		}
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch reloads the file on change and hands valid configs to onChange.
// Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			slog.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load is a convenience wrapper for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

var (
	speechBackends     = []string{"grpc", "stub"}
	translatorBackends = []string{"grpc", "gemini", "aws", "stub"}
	storeBackends      = []string{"none", "log", "mongo", "postgres"}
	vadBackends        = []string{"energy", "grpc"}
)

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.Newf(apperrors.CodeConfigInvalid, format, args...)
	}
	if len(c.Languages.Supported) == 0 {
		return invalid("languages.supported is empty")
	}
	for _, code := range []string{c.Languages.DefaultSource, c.Languages.DefaultTarget} {
		if !slices.Contains(c.Languages.Supported, code) {
			return invalid("default language %q is not supported", code)
		}
	}
	if c.Inference.Timeout <= 0 {
		return invalid("inference.timeout must be positive")
	}
	if c.Collection.DefaultDuration <= 0 || c.Collection.MaxDuration < c.Collection.DefaultDuration {
		return invalid("collection durations must satisfy 0 < default <= max")
	}
	if c.Camera.Enabled && c.Camera.Rate <= 0 {
		return invalid("camera.rate must be positive")
	}
	if !slices.Contains(speechBackends, c.Providers.Speech) {
		return invalid("unknown speech backend %q", c.Providers.Speech)
	}
	if !slices.Contains(translatorBackends, c.Providers.Translator) {
		return invalid("unknown translator backend %q", c.Providers.Translator)
	}
	if c.Providers.Translator == "gemini" && c.Providers.GeminiAPIKey == "" {
		return invalid("gemini translator requires providers.gemini_api_key")
	}
	if !slices.Contains(storeBackends, c.Store.Backend) {
		return invalid("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return invalid("postgres store requires store.postgres_dsn")
	}
	if !slices.Contains(vadBackends, c.Microphone.VAD) {
		return invalid("unknown vad backend %q", c.Microphone.VAD)
	}
	return nil
}

// LogLevel parses Log.Level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
