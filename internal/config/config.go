package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	Register  RegisterConfig  `mapstructure:"register"`
	Retry     RetryConfig     `mapstructure:"retry"`
	IDGen     IDGenConfig     `mapstructure:"idgen"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
	// AdvertiseIP is the address other servers reach this process on.
	// Empty means detect from the first non-loopback interface.
	AdvertiseIP   string `mapstructure:"advertise_ip"`
	AdvertisePort int    `mapstructure:"advertise_port"`
}

type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// RegisterConfig drives node leases and the client heartbeat queue.
type RegisterConfig struct {
	Lease          time.Duration `mapstructure:"lease"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
}

type RetryConfig struct {
	TotalPartition int           `mapstructure:"total_partition"`
	RandomMin      time.Duration `mapstructure:"random_min"`
	RandomMax      time.Duration `mapstructure:"random_max"`
	MaxDelayLevel  int           `mapstructure:"max_delay_level"`
	DuePageSize    int           `mapstructure:"due_page_size"`
}

// IDGenConfig.NodeID pins the snowflake node. AutoNodeID claims a free one
// from etcd so concurrent servers never share it.
type IDGenConfig struct {
	NodeID      int64 `mapstructure:"node_id"`
	SegmentStep int64 `mapstructure:"segment_step"`
}

const AutoNodeID = -1

type WorkersConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepLockTTL   int           `mapstructure:"sweep_lock_ttl"`
	NodeRetention  time.Duration `mapstructure:"node_retention"`
	SweepLockWait  time.Duration `mapstructure:"sweep_lock_wait"`
	SweepGroupWait time.Duration `mapstructure:"sweep_group_wait"`
}

type RemoteConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig guards the operator endpoints. DevMode accepts the X-Dev-Pass
// header in place of a token.
type AuthConfig struct {
	SigningKey      string        `mapstructure:"signing_key"`
	DevMode         bool          `mapstructure:"dev_mode"`
	AdminUser       string        `mapstructure:"admin_user"`
	AdminPassword   string        `mapstructure:"admin_password"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.advertise_port", 8080)
	v.SetDefault("mysql.auto_migrate", true)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("etcd.endpoints", []string{"127.0.0.1:2379"})
	v.SetDefault("etcd.dial_timeout", 5*time.Second)

	v.SetDefault("register.lease", 30*time.Second)
	v.SetDefault("register.queue_capacity", 256)
	v.SetDefault("register.poll_timeout", 5*time.Second)
	v.SetDefault("register.resync_interval", 10*time.Second)

	v.SetDefault("retry.total_partition", 32)
	v.SetDefault("retry.random_min", time.Second)
	v.SetDefault("retry.random_max", 60*time.Second)
	v.SetDefault("retry.max_delay_level", 0)
	v.SetDefault("retry.due_page_size", 100)

	v.SetDefault("idgen.node_id", AutoNodeID)
	v.SetDefault("idgen.segment_step", 100)

	v.SetDefault("workers.sweep_interval", time.Minute)
	v.SetDefault("workers.sweep_lock_ttl", 10)
	v.SetDefault("workers.sweep_lock_wait", 5*time.Second)
	v.SetDefault("workers.sweep_group_wait", 30*time.Second)
	v.SetDefault("workers.node_retention", 24*time.Hour)

	v.SetDefault("remote.timeout", 3*time.Second)
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("ratelimit.requests_per_second", 50)
}

// Load reads config.yaml from . or ./config, overlaid by RETRY_* env vars.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("RETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MySQL.DSN == "" {
		return errors.New("mysql.dsn is required")
	}
	if c.Register.Lease < 2*time.Second {
		return errors.New("register.lease must be at least 2s")
	}
	if c.Register.QueueCapacity <= 0 {
		return errors.New("register.queue_capacity must be positive")
	}
	if c.Retry.TotalPartition <= 0 {
		return errors.New("retry.total_partition must be positive")
	}
	if c.Retry.RandomMax < c.Retry.RandomMin {
		return errors.New("retry.random_max must not be below retry.random_min")
	}
	if c.IDGen.NodeID != AutoNodeID && (c.IDGen.NodeID < 0 || c.IDGen.NodeID > 1023) {
		return errors.New("idgen.node_id must be -1 (claim from etcd) or within 0..1023")
	}
	if c.Auth.SigningKey == "" && !c.Auth.DevMode {
		return errors.New("auth.signing_key is required outside dev mode")
	}
	return nil
}
