package config

// Config holds all worker configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Queue  QueueConfig  `mapstructure:"queue" validate:"required"`
}

// ServerConfig contains the dispatch server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// QueueConfig selects and configures the queueing backend.
type QueueConfig struct {
	// Backend picks the task store: "postgres" persists tasks via the
	// queuepg backend, "http" pushes them to a peer dispatch endpoint.
	Backend string `mapstructure:"backend" validate:"required,oneof=postgres http"`

	// DatabaseURL is required for the postgres backend.
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Backend postgres,omitempty,url"`

	// Endpoint is the base URL of the peer dispatch server, required for
	// the http backend.
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Backend http,omitempty,url"`

	// SigningSecret, when set, signs outgoing deliveries and is required
	// from incoming ones. Minimum 32 characters.
	SigningSecret string `mapstructure:"signing_secret" validate:"omitempty,min=32"`
}
