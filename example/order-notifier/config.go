package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type config struct {
	Log     logConfig     `mapstructure:"log"`
	HTTP    httpConfig    `mapstructure:"http"`
	Hub     hubConfig     `mapstructure:"hub"`
	Stream  streamConfig  `mapstructure:"stream"`
	Socket  socketConfig  `mapstructure:"socket"`
	Limiter limiterConfig `mapstructure:"limiter"`
}

type logConfig struct {
	Level string `mapstructure:"level"`
}

type httpConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	Debug          bool     `mapstructure:"debug"`
}

type hubConfig struct {
	PendingWindow time.Duration `mapstructure:"pending_window"`
	PendingLimit  int           `mapstructure:"pending_limit"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

type streamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	QueueSize         int           `mapstructure:"queue_size"`
}

type socketConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MirrorHub forwards every hub broadcast to the socket rooms as well
	MirrorHub           bool          `mapstructure:"mirror_hub"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	QueueSize           int           `mapstructure:"queue_size"`
	OriginPatterns      []string      `mapstructure:"origin_patterns"`
	AllowUnverifiedJoin bool          `mapstructure:"allow_unverified_join"`
	SecretFile          string        `mapstructure:"secret_file"`
	JoinKeyID           string        `mapstructure:"join_key_id"`
	JoinTokenTTL        time.Duration `mapstructure:"join_token_ttl"`
}

type limiterConfig struct {
	Max           int           `mapstructure:"max"`
	Window        time.Duration `mapstructure:"window"`
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("http.address", "0.0.0.0:9090")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.debug", false)

	v.SetDefault("hub.pending_window", 15*time.Second)
	v.SetDefault("hub.pending_limit", 32)
	v.SetDefault("hub.sweep_interval", 30*time.Second)
	v.SetDefault("hub.stale_after", 90*time.Second)

	v.SetDefault("stream.heartbeat_interval", 30*time.Second)
	v.SetDefault("stream.write_timeout", 5*time.Second)
	v.SetDefault("stream.queue_size", 64)

	v.SetDefault("socket.enabled", true)
	v.SetDefault("socket.mirror_hub", true)
	v.SetDefault("socket.ping_interval", 25*time.Second)
	v.SetDefault("socket.write_timeout", 5*time.Second)
	v.SetDefault("socket.queue_size", 64)
	v.SetDefault("socket.origin_patterns", []string{"localhost:*"})
	v.SetDefault("socket.allow_unverified_join", false)
	v.SetDefault("socket.secret_file", "")
	v.SetDefault("socket.join_key_id", "")
	v.SetDefault("socket.join_token_ttl", 12*time.Hour)

	v.SetDefault("limiter.max", 30)
	v.SetDefault("limiter.window", time.Minute)
	v.SetDefault("limiter.redis_address", "")
	v.SetDefault("limiter.redis_password", "")
	v.SetDefault("limiter.redis_db", 0)
}

// initConfig reads the yaml file at path; every key can be overridden with
// ORDER_NOTIFIER_<SECTION>_<KEY>. A missing file means defaults.
func initConfig(path string) (cfg config, err error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvPrefix("ORDER_NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err = v.ReadInConfig()
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Msgf("config %v not found, using defaults", path)
	} else if err != nil {
		return cfg, err
	} else {
		log.Info().Msgf("reading config: %v", path)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

// streams touch the hub on every heartbeat; a sweep between two heartbeats would drop healthy clients
func (c config) validate() error {
	if c.Hub.SweepInterval > 0 && c.Hub.StaleAfter > 0 && c.Stream.HeartbeatInterval >= c.Hub.StaleAfter {
		return fmt.Errorf("%w: hub.stale_after (%v) must exceed stream.heartbeat_interval (%v)",
			ErrInvalidConfig, c.Hub.StaleAfter, c.Stream.HeartbeatInterval)
	}
	return nil
}
