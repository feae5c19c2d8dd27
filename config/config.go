package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port    string `mapstructure:"port"`
	AppName string `mapstructure:"app_name"`
	Env     string `mapstructure:"env"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	// DB is a comma separated list, e.g. "0,1". DB 0 holds refresh tokens
	// and presence, DB 1 backs the socket.io adapter.
	DB string `mapstructure:"db"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Exchange string `mapstructure:"exchange"`
}

type JWTConfig struct {
	AccessKey     string `mapstructure:"access_key"`
	RefreshKey    string `mapstructure:"refresh_key"`
	AccessExpire  int    `mapstructure:"access_expire"`
	RefreshExpire int    `mapstructure:"refresh_expire"`
}

type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	PublicURL       string `mapstructure:"public_url"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
}

type EventConfig struct {
	// Mode is one of DISABLE, LOG, REPLAY.
	Mode        string `mapstructure:"mode"`
	JournalFile string `mapstructure:"journal_file"`
}

type ChatConfig struct {
	HeartbeatSeconds int     `mapstructure:"heartbeat_seconds"`
	TypingSeconds    int     `mapstructure:"typing_seconds"`
	TypingRate       float64 `mapstructure:"typing_rate"`
	GeneralGroup     string  `mapstructure:"general_group"`
}

// AdminConfig seeds the first admin account on an empty database.
type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type Settings struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Event    EventConfig    `mapstructure:"event"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Admin    AdminConfig    `mapstructure:"admin"`
	OTP      struct {
		Issuer string `mapstructure:"issuer"`
	} `mapstructure:"otp"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads an optional .env file and then the process environment.
// Keys map SERVER_PORT -> server.port, POSTGRES_HOST -> postgres.host, ...
func Load(envFiles ...string) (*Settings, error) {
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.app_name", "uplink-service")
	v.SetDefault("server.env", "production")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.db", "uplink")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", "0,1")

	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", "5672")
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.password", "guest")
	v.SetDefault("rabbitmq.exchange", "uplink.changes")

	v.SetDefault("jwt.access_key", "")
	v.SetDefault("jwt.refresh_key", "")
	v.SetDefault("jwt.access_expire", 15)
	v.SetDefault("jwt.refresh_expire", 60*24*7)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.bucket", "uplink")
	v.SetDefault("storage.public_url", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.max_upload_bytes", 10*1024*1024)

	v.SetDefault("event.mode", "LOG")
	v.SetDefault("event.journal_file", "log/changes.log")

	v.SetDefault("chat.heartbeat_seconds", 60)
	v.SetDefault("chat.typing_seconds", 3)
	v.SetDefault("chat.typing_rate", 4)
	v.SetDefault("chat.general_group", "General")

	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")

	v.SetDefault("otp.issuer", "uplink")
	v.SetDefault("log_level", "info")
}

// Heartbeat is the client presence interval. Unset values fall back to a minute.
func (s *Settings) Heartbeat() time.Duration {
	if s.Chat.HeartbeatSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.Chat.HeartbeatSeconds) * time.Second
}

// TypingWindow is how long a typing signal stays visible.
func (s *Settings) TypingWindow() time.Duration {
	if s.Chat.TypingSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.Chat.TypingSeconds) * time.Second
}

func (s *Settings) Development() bool {
	return s.Server.Env == "development" || s.Server.Env == "dev"
}
