// Package pagination parses page requests from query strings and shapes
// paged results.
package pagination

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/JaimeStill/marker/pkg/query"
)

// Config bounds page sizes.
type Config struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
}

// Env names the environment variables that override Config.
type Env struct {
	DefaultPageSize string
	MaxPageSize     string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	if env != nil {
		for name, dst := range map[string]*int{
			env.DefaultPageSize: &c.DefaultPageSize,
			env.MaxPageSize:     &c.MaxPageSize,
		} {
			if name == "" {
				continue
			}
			if n, err := strconv.Atoi(os.Getenv(name)); err == nil {
				*dst = n
			}
		}
	}

	switch {
	case c.DefaultPageSize < 1, c.MaxPageSize < 1:
		return fmt.Errorf("page sizes must be positive")
	case c.DefaultPageSize > c.MaxPageSize:
		return fmt.Errorf("default_page_size cannot exceed max_page_size")
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.DefaultPageSize != 0 {
		c.DefaultPageSize = overlay.DefaultPageSize
	}
	if overlay.MaxPageSize != 0 {
		c.MaxPageSize = overlay.MaxPageSize
	}
}

// PageRequest selects one page of a sorted listing.
type PageRequest struct {
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Sort     []query.SortField `json:"sort,omitempty"`
}

// Offset is the number of rows before the page.
func (r PageRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// PageRequestFromQuery reads page, page_size, and sort from values and
// clamps them to cfg.
func PageRequestFromQuery(values url.Values, cfg Config) PageRequest {
	page, _ := strconv.Atoi(values.Get("page"))
	size, _ := strconv.Atoi(values.Get("page_size"))

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = cfg.DefaultPageSize
	}

	return PageRequest{
		Page:     page,
		PageSize: min(size, cfg.MaxPageSize),
		Sort:     query.ParseSortFields(values.Get("sort")),
	}
}

// PageResult is one page of T with totals.
type PageResult[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPageResult wraps data for req given the unpaged total. An empty
// listing still reports one page.
func NewPageResult[T any](data []T, total int, req PageRequest) PageResult[T] {
	if data == nil {
		data = []T{}
	}
	pages := 1
	if req.PageSize > 0 && total > 0 {
		pages = (total + req.PageSize - 1) / req.PageSize
	}
	return PageResult[T]{
		Data:       data,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: pages,
	}
}
