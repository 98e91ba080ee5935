package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	UserID      string `mapstructure:"user_id"`
	DisplayName string `mapstructure:"display_name"`

	API      APIConfig      `mapstructure:"api"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	RTC      RTCConfig      `mapstructure:"rtc"`
	Matching MatchingConfig `mapstructure:"matching"`
	Call     CallConfig     `mapstructure:"call"`
	Store    StoreConfig    `mapstructure:"store"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AuthToken      string        `mapstructure:"auth_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type RealtimeConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
}

type RTCConfig struct {
	SignalURL  string   `mapstructure:"signal_url"`
	ICEServers []string `mapstructure:"ice_servers"`
	VoiceOnly  bool     `mapstructure:"voice_only"`
}

type MatchingConfig struct {
	SearchDelay  time.Duration `mapstructure:"search_delay"`
	RematchDelay time.Duration `mapstructure:"rematch_delay"`
	AutoRematch  bool          `mapstructure:"auto_rematch"`
}

type CallConfig struct {
	TotalBudget          time.Duration `mapstructure:"total_budget"`
	ReservationThreshold time.Duration `mapstructure:"reservation_threshold"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	GraceWindow          time.Duration `mapstructure:"grace_window"`
	GracePoll            time.Duration `mapstructure:"grace_poll"`
	LivenessTimeout      time.Duration `mapstructure:"liveness_timeout"`
	LivenessInterval     time.Duration `mapstructure:"liveness_interval"`
}

type HTTPConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("roulette")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | User: %s\n", cfg.Mode, cfg.Port, cfg.UserID)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "roulette-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("user_id", "")
	v.SetDefault("display_name", "guest")

	v.SetDefault("api.base_url", "http://localhost:9000")
	v.SetDefault("api.request_timeout", "10s")

	v.SetDefault("realtime.url", "ws://localhost:9001/realtime")
	v.SetDefault("realtime.connect_timeout", "10s")
	v.SetDefault("realtime.read_limit", 32768)
	v.SetDefault("realtime.ping_period", "54s")

	v.SetDefault("rtc.signal_url", "ws://localhost:9002/rtc")
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("matching.search_delay", "1s")
	v.SetDefault("matching.rematch_delay", "2s")
	v.SetDefault("matching.auto_rematch", true)

	v.SetDefault("call.total_budget", "15m")
	v.SetDefault("call.reservation_threshold", "10m")
	v.SetDefault("call.tick_interval", "1s")
	v.SetDefault("call.grace_window", "3s")
	v.SetDefault("call.grace_poll", "500ms")
	v.SetDefault("call.liveness_timeout", "10s")
	v.SetDefault("call.liveness_interval", "1s")

	v.SetDefault("store.path", "roulette.db")

	v.SetDefault("http.rate_limit", 30)
	v.SetDefault("http.rate_interval", "10s")
}

// Validate rejects settings the call clock cannot run with.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("config: user_id is required")
	}
	if c.Call.ReservationThreshold >= c.Call.TotalBudget {
		return fmt.Errorf("config: call.reservation_threshold (%s) must be below call.total_budget (%s)",
			c.Call.ReservationThreshold, c.Call.TotalBudget)
	}
	if c.Call.GracePoll > c.Call.GraceWindow {
		return fmt.Errorf("config: call.grace_poll must not exceed call.grace_window")
	}
	return nil
}
