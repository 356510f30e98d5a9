package middleware

import (
	"os"
	"strconv"
	"strings"
)

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	Enabled          bool     `toml:"enabled"`
	Origins          []string `toml:"origins"`
	AllowedMethods   []string `toml:"allowed_methods"`
	AllowedHeaders   []string `toml:"allowed_headers"`
	ExposedHeaders   []string `toml:"exposed_headers"`
	AllowCredentials bool     `toml:"allow_credentials"`
	MaxAge           int      `toml:"max_age"`
}

// CORSEnv names the environment variables that override CORSConfig fields.
// Empty names are skipped.
type CORSEnv struct {
	Enabled          string
	Origins          string
	AllowedMethods   string
	AllowedHeaders   string
	ExposedHeaders   string
	AllowCredentials string
	MaxAge           string
}

// Finalize applies defaults and environment variable overrides.
func (c *CORSConfig) Finalize(env *CORSEnv) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return nil
}

// Merge overwrites fields from overlay. Booleans always apply; lists apply
// when set and MaxAge when non-negative.
func (c *CORSConfig) Merge(overlay *CORSConfig) {
	c.Enabled = overlay.Enabled
	c.AllowCredentials = overlay.AllowCredentials

	for dst, src := range map[*[]string][]string{
		&c.Origins:        overlay.Origins,
		&c.AllowedMethods: overlay.AllowedMethods,
		&c.AllowedHeaders: overlay.AllowedHeaders,
		&c.ExposedHeaders: overlay.ExposedHeaders,
	} {
		if src != nil {
			*dst = src
		}
	}
	if overlay.MaxAge >= 0 {
		c.MaxAge = overlay.MaxAge
	}
}

// Allows reports whether origin is in the configured allow list.
// A "*" entry allows any origin.
func (c *CORSConfig) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range c.Origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (c *CORSConfig) loadDefaults() {
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Content-Type", "Authorization"}
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 3600
	}
}

func (c *CORSConfig) loadEnv(env *CORSEnv) {
	for name, dst := range map[string]*[]string{
		env.Origins:        &c.Origins,
		env.AllowedMethods: &c.AllowedMethods,
		env.AllowedHeaders: &c.AllowedHeaders,
		env.ExposedHeaders: &c.ExposedHeaders,
	} {
		if v := lookup(name); v != "" {
			*dst = splitList(v)
		}
	}
	for name, dst := range map[string]*bool{
		env.Enabled:          &c.Enabled,
		env.AllowCredentials: &c.AllowCredentials,
	} {
		if b, err := strconv.ParseBool(lookup(name)); err == nil {
			*dst = b
		}
	}
	if n, err := strconv.Atoi(lookup(env.MaxAge)); err == nil {
		c.MaxAge = n
	}
}

func lookup(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

func splitList(v string) []string {
	out := []string{}
	for part := range strings.SplitSeq(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
