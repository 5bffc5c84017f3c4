// Package config provides the configuration structure for the plomtts service.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment switches read before the configuration itself.
const (
	EnvConfigPath    = "PLOMTTS_CONFIG"
	EnvCentralConfig = "PLOMTTS_CENTRAL_CONFIG"
)

// Defaults.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8420
	DefaultMaxUploadMB     = 50
	DefaultShutdownSeconds = 10
	DefaultFishSpeechHost  = "fish-speech"
	DefaultFishSpeechPort  = 7860
	DefaultAPIName         = "/partial"
	DefaultTimeoutSeconds  = 300
	DefaultVoicesDir       = "/app/voices"
	DefaultFFmpegPath      = "ffmpeg"
	DefaultFFprobePath     = "ffprobe"
	DefaultSubjectPrefix   = "plomtts"
	DefaultQueueGroup      = "plomtts-workers"
	DefaultAudioBucket     = "plomtts-audio"

	maxPort = 65535
)

// Validation errors.
var (
	ErrVoicesDirEmpty  = errors.New("voices directory cannot be empty")
	ErrPortRange       = errors.New("port must be between 1 and 65535")
	ErrTimeoutPositive = errors.New("timeout must be positive")
	ErrUploadLimit     = errors.New("max upload size must be positive")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                   string   `toml:"host"                     env:"PLOMTTS_HOST"`
	Port                   int      `toml:"port"                     env:"PLOMTTS_PORT"`
	MaxUploadMB            int      `toml:"max_upload_mb"            env:"PLOMTTS_MAX_UPLOAD_MB"`
	CORSOrigins            []string `toml:"cors_origins"             env:"PLOMTTS_CORS_ORIGINS"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds" env:"PLOMTTS_SHUTDOWN_TIMEOUT"`
}

// FishSpeechConfig holds the synthesis backend settings.
type FishSpeechConfig struct {
	Host           string `toml:"host"            env:"FISH_SPEECH_HOST"`
	Port           int    `toml:"port"            env:"FISH_SPEECH_PORT"`
	URL            string `toml:"url"             env:"FISH_SPEECH_URL"`
	APIName        string `toml:"api_name"        env:"FISH_SPEECH_API_NAME"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"FISH_SPEECH_TIMEOUT"`
	DownloadDir    string `toml:"download_dir"    env:"FISH_SPEECH_DOWNLOAD_DIR"`
}

// VoicesConfig holds the voice store settings.
type VoicesConfig struct {
	Dir          string `toml:"dir"           env:"PLOMTTS_VOICES_DIR"`
	CacheListing bool   `toml:"cache_listing" env:"PLOMTTS_VOICES_CACHE"`
}

// AudioConfig holds the codec binaries.
type AudioConfig struct {
	FFmpegPath  string `toml:"ffmpeg_path"  env:"PLOMTTS_FFMPEG"`
	FFprobePath string `toml:"ffprobe_path" env:"PLOMTTS_FFPROBE"`
}

// NATSConfig holds the event publishing and speech worker settings. An empty URL
// disables both; an empty jobs subject disables only the worker.
type NATSConfig struct {
	URL           string `toml:"url"            env:"PLOMTTS_NATS_URL"`
	SubjectPrefix string `toml:"subject_prefix" env:"PLOMTTS_NATS_SUBJECT_PREFIX"`
	JobsSubject   string `toml:"jobs_subject"   env:"PLOMTTS_NATS_JOBS_SUBJECT"`
	QueueGroup    string `toml:"queue_group"    env:"PLOMTTS_NATS_QUEUE_GROUP"`
	AudioBucket   string `toml:"audio_bucket"   env:"PLOMTTS_NATS_AUDIO_BUCKET"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir" env:"PLOMTTS_LOGS_DIR"`
}

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	FishSpeech FishSpeechConfig `toml:"fish_speech"`
	Voices     VoicesConfig     `toml:"voices"`
	Audio      AudioConfig      `toml:"audio"`
	NATS       NATSConfig       `toml:"nats"`
	Paths      PathsConfig      `toml:"paths"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   DefaultHost,
			Port:                   DefaultPort,
			MaxUploadMB:            DefaultMaxUploadMB,
			CORSOrigins:            []string{"*"},
			ShutdownTimeoutSeconds: DefaultShutdownSeconds,
		},
		FishSpeech: FishSpeechConfig{
			Host:           DefaultFishSpeechHost,
			Port:           DefaultFishSpeechPort,
			APIName:        DefaultAPIName,
			TimeoutSeconds: DefaultTimeoutSeconds,
			DownloadDir:    filepath.Join(os.TempDir(), "plomtts-gradio"),
		},
		Voices: VoicesConfig{
			Dir:          DefaultVoicesDir,
			CacheListing: true,
		},
		Audio: AudioConfig{
			FFmpegPath:  DefaultFFmpegPath,
			FFprobePath: DefaultFFprobePath,
		},
		NATS: NATSConfig{
			SubjectPrefix: DefaultSubjectPrefix,
			QueueGroup:    DefaultQueueGroup,
			AudioBucket:   DefaultAudioBucket,
		},
		Paths: PathsConfig{
			BaseLogsDir: filepath.Join(os.TempDir(), "plomtts-logs"),
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file, the central
// configurator when enabled, a .env file and the environment, in that order.
// An empty path falls back to PLOMTTS_CONFIG.
func Load(path string, log *logger.Logger) (*Config, error) {
	cfg := Default()

	// A missing .env is not an error.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path != "" {
		fileErr := loadFile(path, cfg)
		if fileErr != nil {
			return nil, fileErr
		}

		log.Info("Loaded configuration file %s", path)
	}

	if central, _ := strconv.ParseBool(os.Getenv(EnvCentralConfig)); central {
		err := configurator.Load(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
		}
	}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Voices.Dir == "" {
		return ErrVoicesDirEmpty
	}

	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server: %w: %d", ErrPortRange, c.Server.Port)
	}

	if c.FishSpeech.URL == "" && (c.FishSpeech.Port < 1 || c.FishSpeech.Port > maxPort) {
		return fmt.Errorf("fish_speech: %w: %d", ErrPortRange, c.FishSpeech.Port)
	}

	if c.FishSpeech.TimeoutSeconds <= 0 {
		return fmt.Errorf("fish_speech: %w", ErrTimeoutPositive)
	}

	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("server shutdown: %w", ErrTimeoutPositive)
	}

	if c.Server.MaxUploadMB <= 0 {
		return ErrUploadLimit
	}

	return nil
}

// ListenAddress returns host:port for the HTTP listener.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// FishSpeechURL returns the configured backend URL, or one built from host and port.
func (c *Config) FishSpeechURL() string {
	if c.FishSpeech.URL != "" {
		return c.FishSpeech.URL
	}

	return "http://" + net.JoinHostPort(c.FishSpeech.Host, strconv.Itoa(c.FishSpeech.Port))
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}
