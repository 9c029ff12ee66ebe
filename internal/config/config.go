package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/database"
	pkglog "github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Gateway   GatewayConfig
	JWT       JWTConfig
	Database  database.Config
	Store     StoreConfig
	Cassandra CassandraConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Relay     RelayConfig
	Snowflake SnowflakeConfig
	Log       pkglog.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type GatewayConfig struct {
	RejectAnonymous      bool            `mapstructure:"reject_anonymous"`
	ConcealRoomExistence bool            `mapstructure:"conceal_room_existence"`
	RateLimit            RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Burst    int
	Interval time.Duration
}

type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessDuration time.Duration `mapstructure:"access_duration"`
}

type StoreConfig struct {
	Driver string // gorm, cassandra, memory
}

type CassandraConfig struct {
	Hosts          []string
	Keyspace       string
	Consistency    string
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	Prefix  string
	TTL     time.Duration
}

type RelayConfig struct {
	Driver  string // none, redis, kafka
	Channel string
	Kafka   pubsub.KafkaConfig
}

type SnowflakeConfig struct {
	MachineID int64 `mapstructure:"machine_id"`
	Epoch     int64
}

// Load reads ./config/config.yaml (or path, when non-empty) plus env overrides.
func Load(path string) (*Config, error) {
	v, err := pkgconfig.LoadFile(path)
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("relay.driver", "RELAY_DRIVER")
	v.BindEnv("relay.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("snowflake.machine_id", "SNOWFLAKE_MACHINE_ID")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Gateway.RateLimit.Interval = parseDuration(v, "gateway.rate_limit.interval", time.Second)
	cfg.JWT.AccessDuration = parseDuration(v, "jwt.access_duration", time.Hour)
	cfg.Cache.TTL = parseDuration(v, "cache.ttl", time.Minute)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("gateway.reject_anonymous", false)
	v.SetDefault("gateway.conceal_room_existence", false)
	v.SetDefault("gateway.rate_limit.burst", 20)
	v.SetDefault("gateway.rate_limit.interval", "1s")

	v.SetDefault("jwt.issuer", "teamchat")
	v.SetDefault("jwt.access_duration", "1h")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "teamchat.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 30)

	v.SetDefault("store.driver", "gorm")

	v.SetDefault("cassandra.hosts", []string{"localhost"})
	v.SetDefault("cassandra.keyspace", "teamchat")
	v.SetDefault("cassandra.consistency", "LOCAL_ONE")
	v.SetDefault("cassandra.connect_timeout", "5s")
	v.SetDefault("cassandra.timeout", "2s")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "teamchat:room")
	v.SetDefault("cache.ttl", "1m")

	v.SetDefault("relay.driver", "none")
	v.SetDefault("relay.channel", "chat:rooms:broadcast")
	v.SetDefault("relay.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.kafka.group_id", "chat-gateway")
	v.SetDefault("relay.kafka.partitions", 4)

	v.SetDefault("snowflake.machine_id", 1)
	v.SetDefault("snowflake.epoch", 1704067200000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-gateway")
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
