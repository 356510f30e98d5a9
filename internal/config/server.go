package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	EnvServerHost            = "MARKER_SERVER_HOST"
	EnvServerPort            = "MARKER_SERVER_PORT"
	EnvServerReadTimeout     = "MARKER_SERVER_READ_TIMEOUT"
	EnvServerWriteTimeout    = "MARKER_SERVER_WRITE_TIMEOUT"
	EnvServerShutdownTimeout = "MARKER_SERVER_SHUTDOWN_TIMEOUT"
)

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *ServerConfig) ReadTimeoutDuration() time.Duration     { return duration(c.ReadTimeout) }
func (c *ServerConfig) WriteTimeoutDuration() time.Duration    { return duration(c.WriteTimeout) }
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration { return duration(c.ShutdownTimeout) }

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ServerConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from o.
func (c *ServerConfig) Merge(o *ServerConfig) {
	override(&c.Host, o.Host)
	override(&c.Port, o.Port)
	override(&c.ReadTimeout, o.ReadTimeout)
	override(&c.WriteTimeout, o.WriteTimeout)
	override(&c.ShutdownTimeout, o.ShutdownTimeout)
}

func (c *ServerConfig) loadDefaults() {
	fallback(&c.Host, "0.0.0.0")
	fallback(&c.Port, 8080)
	fallback(&c.ReadTimeout, "1m")
	fallback(&c.WriteTimeout, "2m")
	fallback(&c.ShutdownTimeout, "30s")
}

func (c *ServerConfig) loadEnv() {
	envString(&c.Host, EnvServerHost)
	envInt(&c.Port, EnvServerPort)
	envString(&c.ReadTimeout, EnvServerReadTimeout)
	envString(&c.WriteTimeout, EnvServerWriteTimeout)
	envString(&c.ShutdownTimeout, EnvServerShutdownTimeout)
}

func (c *ServerConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return checkDurations(
		"read_timeout", c.ReadTimeout,
		"write_timeout", c.WriteTimeout,
		"shutdown_timeout", c.ShutdownTimeout,
	)
}
