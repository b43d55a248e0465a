package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr     string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLiteDSN   string `envconfig:"SQLITE_DSN" default:"file:chat.db?_pragma=foreign_keys(ON)"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	JWTTTLMin int    `envconfig:"JWT_TTL_MIN" default:"1440"`

	TypingTTL     time.Duration `envconfig:"TYPING_TTL" default:"2s"`
	PresenceGrace time.Duration `envconfig:"PRESENCE_GRACE" default:"2s"`
	SendTimeout   time.Duration `envconfig:"SEND_TIMEOUT" default:"1s"`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"5s"`
	MaxMessageLen int           `envconfig:"MAX_MESSAGE_LEN" default:"4000"`
}

func MustLoad() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}
