package config

import "time"

// Config holds every tunable of the client core and the reference backend.
type Config struct {
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
	Client   ClientConfig `mapstructure:"client" yaml:"client"`
	Sync     SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
}

// ClientConfig configures the transport channel and the REST collaborator.
type ClientConfig struct {
	APIURL            string        `mapstructure:"api_url" yaml:"api_url"`
	SocketURL         string        `mapstructure:"socket_url" yaml:"socket_url"`
	UserID            string        `mapstructure:"user_id" yaml:"user_id"`
	Token             string        `mapstructure:"token" yaml:"token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	EmitRate          float64       `mapstructure:"emit_rate" yaml:"emit_rate"`
	EmitBurst         int           `mapstructure:"emit_burst" yaml:"emit_burst"`
}

// SyncConfig holds the typing timers.
type SyncConfig struct {
	TypingStopAfter  time.Duration `mapstructure:"typing_stop_after" yaml:"typing_stop_after"`
	TypingClearAfter time.Duration `mapstructure:"typing_clear_after" yaml:"typing_clear_after"`
}

// ServerConfig configures the reference backend.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			APIURL:            "http://localhost:8080",
			SocketURL:         "ws://localhost:8080/ws",
			RequestTimeout:    10 * time.Second,
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
			EmitRate:          20,
			EmitBurst:         10,
		},
		Sync: SyncConfig{
			TypingStopAfter:  2 * time.Second,
			TypingClearAfter: 3 * time.Second,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			DatabasePath:      "convosync.db",
			JWTSecret:         "change-me",
			JWTIssuer:         "convosync",
			JWTAudience:       "convosync",
			TokenTTL:          24 * time.Hour,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	if other.Client.APIURL != "" {
		c.Client.APIURL = other.Client.APIURL
	}
	if other.Client.SocketURL != "" {
		c.Client.SocketURL = other.Client.SocketURL
	}
	if other.Client.UserID != "" {
		c.Client.UserID = other.Client.UserID
	}
	if other.Client.Token != "" {
		c.Client.Token = other.Client.Token
	}
	if other.Client.RequestTimeout != 0 {
		c.Client.RequestTimeout = other.Client.RequestTimeout
	}
	if other.Client.ReconnectAttempts != 0 {
		c.Client.ReconnectAttempts = other.Client.ReconnectAttempts
	}
	if other.Client.ReconnectDelay != 0 {
		c.Client.ReconnectDelay = other.Client.ReconnectDelay
	}

	if other.Sync.TypingStopAfter != 0 {
		c.Sync.TypingStopAfter = other.Sync.TypingStopAfter
	}
	if other.Sync.TypingClearAfter != 0 {
		c.Sync.TypingClearAfter = other.Sync.TypingClearAfter
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.DatabasePath != "" {
		c.Server.DatabasePath = other.Server.DatabasePath
	}
	if other.Server.JWTSecret != "" {
		c.Server.JWTSecret = other.Server.JWTSecret
	}
}
