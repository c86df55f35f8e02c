package config

import "github.com/caarlos0/env/v10"

// Config holds all runtime settings. Every field comes from the environment;
// optional subsystems (Kafka relay, Redis presence, OIDC verification) stay
// disabled while their addresses are empty.
type Config struct {
	HTTPPort   string `env:"HTTP_PORT" envDefault:"8080"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"./chat.db"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`

	OIDCIssuerURL string `env:"OIDC_ISSUER_URL"`
	OIDCClientID  string `env:"OIDC_CLIENT_ID" envDefault:"backend"`
	OIDCAudience  string `env:"OIDC_AUDIENCE" envDefault:"backend"`

	KafkaBroker string `env:"KAFKA_BROKER"`
	KafkaTopic  string `env:"KAFKA_TOPIC" envDefault:"chat-events"`
	KafkaDLQ    string `env:"KAFKA_DLQ_TOPIC" envDefault:"chat-events-dlq"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	MessageMaxLength  int    `env:"MESSAGE_MAX_LENGTH" envDefault:"1000"`
	MessageSchemaPath string `env:"MESSAGE_SCHEMA_PATH" envDefault:"./schema.json"`
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
