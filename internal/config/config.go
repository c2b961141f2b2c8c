package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/sangam-gaddi/becbilldeskbeta/pkg/config"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/database"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type GatewayConfig struct {
	EventBuffer     int  `mapstructure:"event_buffer"`
	CloseSuperseded bool `mapstructure:"close_superseded"`
}

type AuthConfig struct {
	RequireToken bool          `mapstructure:"require_token"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	Issuer       string        `mapstructure:"issuer"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type KafkaConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Brokers             string `mapstructure:"brokers"`
	Topic               string `mapstructure:"topic"`
	Partitions          int    `mapstructure:"partitions"`
	GroupID             string `mapstructure:"group_id"`
	AutoOffsetReset     string `mapstructure:"auto_offset_reset"`
	SessionTimeoutMs    int    `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMs int    `mapstructure:"heartbeat_interval_ms"`
	MaxPollIntervalMs   int    `mapstructure:"max_poll_interval_ms"`
}

// ArchiveConfig points the gateway at chat-api's ingest route. Used when
// Kafka is disabled; an empty APIURL disables archiving.
type ArchiveConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Queue   int           `mapstructure:"queue"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	Store         string        `mapstructure:"store"` // gorm, cassandra
	Retention     time.Duration `mapstructure:"retention"`
	GlobalLimit   int           `mapstructure:"global_limit"`
	PrivateLimit  int           `mapstructure:"private_limit"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Consistency    string        `mapstructure:"consistency"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	NumConns       int           `mapstructure:"num_conns"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Gateway is the chat-gateway process configuration.
type Gateway struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Log       LogConfig       `mapstructure:"log"`
}

// API is the chat-api process configuration.
type API struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  database.Config `mapstructure:"database"`
	History   HistoryConfig   `mapstructure:"history"`
	Cassandra CassandraConfig `mapstructure:"cassandra"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
}

func configPath() string {
	return pkgconfig.GetEnv("CONFIG_PATH", "./config")
}

// LoadGateway reads gateway.yaml and the environment.
func LoadGateway() (*Gateway, error) {
	v, err := pkgconfig.Load(configPath(), "gateway")
	if err != nil {
		return nil, err
	}

	setServerDefaults(v, 8090)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.ping_interval", "25s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("gateway.event_buffer", 1024)
	v.SetDefault("gateway.close_superseded", true)
	v.SetDefault("auth.require_token", true)
	v.SetDefault("archive.api_url", "http://localhost:8091")
	v.SetDefault("archive.queue", 1024)
	v.SetDefault("archive.timeout", "5s")
	setAuthDefaults(v)
	setKafkaDefaults(v)
	v.SetDefault("log.level", "info")

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.grpc_port", "GRPC_PORT")
	_ = v.BindEnv("auth.require_token", "AUTH_REQUIRE_TOKEN")
	_ = v.BindEnv("archive.api_url", "ARCHIVE_API_URL")
	bindCommonEnv(v)

	var cfg Gateway
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 25*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.TokenTTL = pkgconfig.Duration(v, "auth.token_ttl", 7*24*time.Hour)
	cfg.Archive.Timeout = pkgconfig.Duration(v, "archive.timeout", 5*time.Second)
	cfg.WebSocket.AllowedOrigins = splitList(cfg.WebSocket.AllowedOrigins)

	return &cfg, nil
}

// LoadAPI reads api.yaml and the environment.
func LoadAPI() (*API, error) {
	v, err := pkgconfig.Load(configPath(), "api")
	if err != nil {
		return nil, err
	}

	setServerDefaults(v, 8091)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "chat.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("history.store", "gorm")
	v.SetDefault("history.retention", "168h")
	v.SetDefault("history.global_limit", 50)
	v.SetDefault("history.private_limit", 100)
	v.SetDefault("history.sweep_interval", "10m")
	v.SetDefault("cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("cassandra.keyspace", "campus_chat")
	v.SetDefault("cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("cassandra.connect_timeout", "10s")
	v.SetDefault("cassandra.timeout", "5s")
	v.SetDefault("cassandra.num_conns", 2)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.ttl", "30s")
	setAuthDefaults(v)
	setKafkaDefaults(v)
	v.SetDefault("log.level", "info")

	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.dbname", "DB_NAME")
	_ = v.BindEnv("database.file_path", "DB_FILE_PATH")
	_ = v.BindEnv("history.store", "HISTORY_STORE")
	_ = v.BindEnv("cassandra.keyspace", "CASSANDRA_KEYSPACE")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("cache.enabled", "CACHE_ENABLED")
	bindCommonEnv(v)

	var cfg API
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.History.Retention = pkgconfig.Duration(v, "history.retention", 7*24*time.Hour)
	cfg.History.SweepInterval = pkgconfig.Duration(v, "history.sweep_interval", 10*time.Minute)
	cfg.Cassandra.ConnectTimeout = pkgconfig.Duration(v, "cassandra.connect_timeout", 10*time.Second)
	cfg.Cassandra.Timeout = pkgconfig.Duration(v, "cassandra.timeout", 5*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 30*time.Second)
	cfg.Auth.TokenTTL = pkgconfig.Duration(v, "auth.token_ttl", 7*24*time.Hour)
	cfg.Database.ConnMaxLifetime = pkgconfig.Duration(v, "database.conn_max_lifetime", time.Hour)

	// CASSANDRA_HOSTS: comma-separated, e.g. "cassandra:9042,cassandra-2:9042"
	if hosts := os.Getenv("CASSANDRA_HOSTS"); hosts != "" {
		cfg.Cassandra.Hosts = splitList([]string{hosts})
	}

	return &cfg, nil
}

func setServerDefaults(v *viper.Viper, port int) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", port)
	v.SetDefault("server.shutdown_timeout", "10s")
}

func setAuthDefaults(v *viper.Viper) {
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "becbilldesk")
	v.SetDefault("auth.token_ttl", "168h")
}

func setKafkaDefaults(v *viper.Viper) {
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-messages")
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.group_id", "chat-history-writer")
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.session_timeout_ms", 45000)
	v.SetDefault("kafka.heartbeat_interval_ms", 3000)
	v.SetDefault("kafka.max_poll_interval_ms", 300000)
}

func bindCommonEnv(v *viper.Viper) {
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.issuer", "JWT_ISSUER")
	_ = v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.pretty", "LOG_PRETTY")
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
