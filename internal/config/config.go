package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MESHCALL"

type SignalConfig struct {
	URL          string        `mapstructure:"url"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	// client side
	RedialAttempts int           `mapstructure:"redial_attempts"`
	RedialBackoff  time.Duration `mapstructure:"redial_backoff"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
}

type CallConfig struct {
	Policy           string        `mapstructure:"policy"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	OfferStagger     time.Duration `mapstructure:"offer_stagger"`
	AnswerTimeout    time.Duration `mapstructure:"answer_timeout"`
	RestartTimeout   time.Duration `mapstructure:"restart_timeout"`
	MaxRestarts      int           `mapstructure:"max_restarts"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
}

type ICEConfig struct {
	Servers             []string      `mapstructure:"servers"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepaliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	IncludeLoopback     bool          `mapstructure:"include_loopback"`
}

type Config struct {
	Mode     string       `mapstructure:"mode"`
	Port     int          `mapstructure:"port"`
	Secret   string       `mapstructure:"secret"`
	LogLevel string       `mapstructure:"log_level"`
	DBPath   string       `mapstructure:"db_path"`
	Signal   SignalConfig `mapstructure:"signal"`
	Call     CallConfig   `mapstructure:"call"`
	ICE      ICEConfig    `mapstructure:"ice"`
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"mode":       "mode",
	"port":       "port",
	"log-level":  "log_level",
	"db":         "db_path",
	"signal-url": "signal.url",
	"policy":     "call.policy",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "meshcall-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "")

	v.SetDefault("signal.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signal.read_limit", 32768)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.write_wait", "5s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.rate_limit", 200)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.redial_attempts", 5)
	v.SetDefault("signal.redial_backoff", "500ms")
	v.SetDefault("signal.dial_timeout", "10s")

	v.SetDefault("call.policy", "all")
	v.SetDefault("call.settle_delay", "300ms")
	v.SetDefault("call.offer_stagger", "100ms")
	v.SetDefault("call.answer_timeout", "10s")
	v.SetDefault("call.restart_timeout", "15s")
	v.SetDefault("call.max_restarts", 1)
	v.SetDefault("call.subscribe_timeout", "10s")

	v.SetDefault("ice.servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.disconnected_timeout", "5s")
	v.SetDefault("ice.failed_timeout", "10s")
	v.SetDefault("ice.keepalive_interval", "2s")
	v.SetDefault("ice.include_loopback", false)
}

// Load reads config/config.<CONFIG_ENV>.yaml (or path when set), then applies
// .env, MESHCALL_* environment variables and the given flags, in that order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		fmt.Println("✅ Loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", path)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Policy: %s\n", cfg.Mode, cfg.Port, cfg.Call.Policy)
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Call.Policy {
	case "all", "lower_id":
	default:
		return fmt.Errorf("invalid call.policy %q", c.Call.Policy)
	}
	if c.Call.MaxRestarts < 0 {
		return fmt.Errorf("invalid call.max_restarts %d", c.Call.MaxRestarts)
	}
	if c.Signal.RedialAttempts < 0 {
		return fmt.Errorf("invalid signal.redial_attempts %d", c.Signal.RedialAttempts)
	}
	if c.Signal.SendBuffer <= 0 {
		return fmt.Errorf("invalid signal.send_buffer %d", c.Signal.SendBuffer)
	}
	return nil
}
