package config

import (
	"fmt"

	"github.com/JaimeStill/marker/pkg/formatting"
	"github.com/JaimeStill/marker/pkg/middleware"
	"github.com/JaimeStill/marker/pkg/pagination"
)

var corsEnv = &middleware.CORSEnv{
	Enabled:          "MARKER_CORS_ENABLED",
	Origins:          "MARKER_CORS_ORIGINS",
	AllowedMethods:   "MARKER_CORS_ALLOWED_METHODS",
	AllowedHeaders:   "MARKER_CORS_ALLOWED_HEADERS",
	AllowCredentials: "MARKER_CORS_ALLOW_CREDENTIALS",
	ExposedHeaders:   "MARKER_CORS_EXPOSED_HEADERS",
	MaxAge:           "MARKER_CORS_MAX_AGE",
}

var paginationEnv = &pagination.Env{
	DefaultPageSize: "MARKER_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "MARKER_PAGINATION_MAX_PAGE_SIZE",
}

const (
	EnvAPIBasePath      = "MARKER_API_BASE_PATH"
	EnvAPIMaxUploadSize = "MARKER_API_MAX_UPLOAD_SIZE"
)

// APIConfig holds API routing, upload, listing, and CORS settings.
type APIConfig struct {
	BasePath      string                `toml:"base_path"`
	MaxUploadSize string                `toml:"max_upload_size"`
	CORS          middleware.CORSConfig `toml:"cors"`
	Pagination    pagination.Config     `toml:"pagination"`
}

// MaxUploadSizeBytes returns MaxUploadSize in bytes. Finalize guarantees it
// parses.
func (c *APIConfig) MaxUploadSizeBytes() int64 {
	size, _ := formatting.ParseBytes(c.MaxUploadSize)
	return size
}

// Finalize applies defaults, environment variable overrides, and validation
// for the API config and its nested CORS and pagination configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if size, err := formatting.ParseBytes(c.MaxUploadSize); err != nil || size <= 0 {
		return fmt.Errorf("invalid max_upload_size %q", c.MaxUploadSize)
	}
	if err := c.CORS.Finalize(corsEnv); err != nil {
		return fmt.Errorf("cors: %w", err)
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from o across nested configs.
func (c *APIConfig) Merge(o *APIConfig) {
	override(&c.BasePath, o.BasePath)
	override(&c.MaxUploadSize, o.MaxUploadSize)
	c.CORS.Merge(&o.CORS)
	c.Pagination.Merge(&o.Pagination)
}

func (c *APIConfig) loadDefaults() {
	fallback(&c.BasePath, "/api")
	fallback(&c.MaxUploadSize, "32MB")
}

func (c *APIConfig) loadEnv() {
	envString(&c.BasePath, EnvAPIBasePath)
	envString(&c.MaxUploadSize, EnvAPIMaxUploadSize)
}
