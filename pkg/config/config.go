package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Backend struct {
		BaseURL        string        `yaml:"base_url"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		CreateRetries  int           `yaml:"create_retries"`
	} `yaml:"backend"`

	Channel struct {
		URL          string        `yaml:"url"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`

		Reconnect struct {
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
		} `yaml:"reconnect"`
	} `yaml:"channel"`

	Room struct {
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		ICEServers     []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"room"`

	Media struct {
		VideoFile string `yaml:"video_file"`
		AudioFile string `yaml:"audio_file"`
	} `yaml:"media"`

	Hearts struct {
		DisplayDuration time.Duration `yaml:"display_duration"`
		SendsPerSecond  float64       `yaml:"sends_per_second"`
		Burst           int           `yaml:"burst"`
	} `yaml:"hearts"`

	CoHost struct {
		PendingTTL time.Duration `yaml:"pending_ttl"`
	} `yaml:"cohost"`

	Control struct {
		Address         string        `yaml:"address"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"control"`

	Recording struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"recording"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		SampleRate  float64 `yaml:"sample_rate"`
		Environment string  `yaml:"environment"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Token is never read from the yaml file, only from LIVECAST_TOKEN.
	Token string `yaml:"-"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend.request_timeout must be > 0")
	}
	if c.Backend.CreateRetries < 0 {
		return fmt.Errorf("backend.create_retries must be >= 0")
	}

	if c.Channel.URL == "" {
		return fmt.Errorf("channel.url must not be empty")
	}
	if c.Channel.PingInterval <= 0 {
		return fmt.Errorf("channel.ping_interval must be > 0")
	}
	if c.Channel.PongTimeout <= 0 {
		return fmt.Errorf("channel.pong_timeout must be > 0")
	}
	if c.Channel.WriteTimeout <= 0 {
		return fmt.Errorf("channel.write_timeout must be > 0")
	}
	if c.Channel.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("channel.reconnect.initial_delay must be > 0")
	}
	if c.Channel.Reconnect.MaxDelay < c.Channel.Reconnect.InitialDelay {
		return fmt.Errorf("channel.reconnect.max_delay must be >= initial_delay")
	}
	if c.Channel.Reconnect.Multiplier < 1.0 {
		return fmt.Errorf("channel.reconnect.multiplier must be >= 1.0")
	}

	if c.Room.ConnectTimeout <= 0 {
		return fmt.Errorf("room.connect_timeout must be > 0")
	}

	if c.Hearts.DisplayDuration <= 0 {
		return fmt.Errorf("hearts.display_duration must be > 0")
	}
	if c.Hearts.SendsPerSecond <= 0 {
		return fmt.Errorf("hearts.sends_per_second must be > 0")
	}
	if c.Hearts.Burst <= 0 {
		return fmt.Errorf("hearts.burst must be > 0")
	}

	if c.CoHost.PendingTTL <= 0 {
		return fmt.Errorf("cohost.pending_ttl must be > 0")
	}

	if c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty")
	}
	if c.Control.ShutdownTimeout <= 0 {
		return fmt.Errorf("control.shutdown_timeout must be > 0")
	}

	if c.Recording.Enabled && c.Recording.Dir == "" {
		return fmt.Errorf("recording.dir must not be empty when recording.enabled=true")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error; defaults plus env are used.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Backend.BaseURL = "http://localhost:8080"
	cfg.Backend.RequestTimeout = 10 * time.Second
	cfg.Backend.CreateRetries = 2

	cfg.Channel.URL = "ws://localhost:8081/ws"
	cfg.Channel.PingInterval = 30 * time.Second
	cfg.Channel.PongTimeout = 60 * time.Second
	cfg.Channel.WriteTimeout = 10 * time.Second
	cfg.Channel.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Channel.Reconnect.MaxDelay = 15 * time.Second
	cfg.Channel.Reconnect.Multiplier = 2.0

	cfg.Room.ConnectTimeout = 15 * time.Second

	cfg.Media.VideoFile = "media/output.ivf"
	cfg.Media.AudioFile = "media/output.ogg"

	cfg.Hearts.DisplayDuration = 3 * time.Second
	cfg.Hearts.SendsPerSecond = 4
	cfg.Hearts.Burst = 8

	cfg.CoHost.PendingTTL = 30 * time.Second

	cfg.Control.Address = ":7070"
	cfg.Control.ShutdownTimeout = 10 * time.Second

	cfg.Recording.Enabled = false
	cfg.Recording.Dir = "recordings"

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0
	cfg.Tracing.Environment = "development"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LIVECAST_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("LIVECAST_CHANNEL_URL"); v != "" {
		c.Channel.URL = v
	}
	if v := os.Getenv("LIVECAST_CONTROL_ADDRESS"); v != "" {
		c.Control.Address = v
	}
	if v := os.Getenv("LIVECAST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LIVECAST_TOKEN"); v != "" {
		c.Token = v
	}
}
