package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendQueue    int           `mapstructure:"send_queue"`
	Backpressure string        `mapstructure:"backpressure"`
	AdminToken   string        `mapstructure:"admin_token"`

	RateLimit RateLimit `mapstructure:"rate_limit"`
	Log       Log       `mapstructure:"log"`
	Identity  Identity  `mapstructure:"identity"`
	Directory Directory `mapstructure:"directory"`
	Retry     Retry     `mapstructure:"retry"`

	CollaboratorTimeout time.Duration `mapstructure:"collaborator_timeout"`
	ICEServers          []ICEServer   `mapstructure:"ice_servers"`
}

type RateLimit struct {
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Identity struct {
	Mode    string `mapstructure:"mode"`
	Secret  string `mapstructure:"secret"`
	Issuer  string `mapstructure:"issuer"`
	Address string `mapstructure:"address"`
}

type Directory struct {
	Mode    string `mapstructure:"mode"`
	Path    string `mapstructure:"path"`
	Address string `mapstructure:"address"`
}

type Retry struct {
	Attempts int           `mapstructure:"attempts"`
	Min      time.Duration `mapstructure:"min"`
	Max      time.Duration `mapstructure:"max"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// WebRTC converts the configured servers to what clients put in their
// RTCPeerConnection configuration.
func (c *Config) WebRTC() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Identity.Mode {
	case "jwt":
		if c.Identity.Secret == "" {
			errs = append(errs, errors.New("identity.secret is required in jwt mode"))
		}
	case "remote":
		if c.Identity.Address == "" {
			errs = append(errs, errors.New("identity.address is required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown identity.mode %q", c.Identity.Mode))
	}
	switch c.Directory.Mode {
	case "sqlite":
		if c.Directory.Path == "" {
			errs = append(errs, errors.New("directory.path is required in sqlite mode"))
		}
	case "remote":
		if c.Directory.Address == "" {
			errs = append(errs, errors.New("directory.address is required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown directory.mode %q", c.Directory.Mode))
	}
	if c.Backpressure != "drop_oldest" && c.Backpressure != "kick" {
		errs = append(errs, fmt.Errorf("unknown backpressure %q", c.Backpressure))
	}
	if c.PingPeriod >= c.PongWait {
		errs = append(errs, errors.New("ping_period must be shorter than pong_wait"))
	}
	if c.SendQueue < 1 {
		errs = append(errs, errors.New("send_queue must be positive"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("backpressure", "drop_oldest")
	v.SetDefault("admin_token", "")
	v.SetDefault("rate_limit.events", 20)
	v.SetDefault("rate_limit.interval", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("identity.mode", "jwt")
	v.SetDefault("identity.secret", "")
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.address", "")
	v.SetDefault("directory.mode", "sqlite")
	v.SetDefault("directory.path", "pulse.db")
	v.SetDefault("directory.address", "")
	v.SetDefault("collaborator_timeout", "3s")
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.min", "100ms")
	v.SetDefault("retry.max", "2s")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults; PULSE_*
// environment variables override both (PULSE_IDENTITY_SECRET for identity.secret).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("identity", cfg.Identity.Mode).Str("directory", cfg.Directory.Mode).Msg("config ready")
	return &cfg, nil
}
