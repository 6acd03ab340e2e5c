// Package config loads the pingback service configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/tlsconfig"
)

// Post is a post served by the built-in blog.
type Post struct {
	Slug         string
	Title        string
	PingsEnabled bool
	Private      bool
	// Content is the post body as HTML.
	Content string
}

// Config holds everything the pingback commands need.
type Config struct {
	BlogURL     string
	Listen      string
	Timeout     time.Duration
	InsecureTLS bool
	// TLSProfile is the TLS version range offered to https hosts.
	TLSProfile   tlsconfig.VersionProfile
	MaxRedirects int
	ServicePath  string
	Permalink    string
	UserAgent    string
	// Moved maps old post paths to new ones, relative to BlogURL.
	Moved map[string]string
	Posts []Post
}

const (
	defaultConfigPath = "~/.config/pingback/config.toml"
	defaultListen     = "127.0.0.1:8080"
	defaultPermalink  = "/{year}/{month}/{day}/{slug}"
	defaultUserAgent  = "go-pingback/1.0"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Listen:       defaultListen,
		Timeout:      constants.DefaultTimeout,
		TLSProfile:   tlsconfig.ProfileSecure,
		MaxRedirects: constants.DefaultMaxRedirects,
		ServicePath:  constants.ServicePath,
		Permalink:    defaultPermalink,
		UserAgent:    defaultUserAgent,
	}
}

// Load locates and parses the config, falling back to defaults when the file
// is missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML config data on top of the defaults.
func Parse(data []byte) (Config, error) {
	var raw struct {
		BlogURL      string            `toml:"blog_url"`
		Listen       string            `toml:"listen"`
		Timeout      string            `toml:"timeout"`
		InsecureTLS  bool              `toml:"insecure_tls"`
		TLSProfile   string            `toml:"tls_profile"`
		MaxRedirects *int              `toml:"max_redirects"`
		ServicePath  string            `toml:"service_path"`
		Permalink    string            `toml:"permalink"`
		UserAgent    string            `toml:"user_agent"`
		Moved        map[string]string `toml:"moved"`
		Posts        []struct {
			Slug         string `toml:"slug"`
			Title        string `toml:"title"`
			PingsEnabled *bool  `toml:"pings_enabled"`
			Private      bool   `toml:"private"`
			Content      string `toml:"content"`
		} `toml:"posts"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()
	cfg.InsecureTLS = raw.InsecureTLS
	profile, err := tlsconfig.ProfileByName(raw.TLSProfile)
	if err != nil {
		return Config{}, fmt.Errorf("tls_profile: %w", err)
	}
	cfg.TLSProfile = profile
	cfg.Moved = raw.Moved

	cfg.BlogURL = strings.TrimSpace(raw.BlogURL)
	if cfg.BlogURL != "" {
		u, err := url.Parse(cfg.BlogURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("blog_url %q is not an absolute http(s) URL", cfg.BlogURL)
		}
	}

	if v := strings.TrimSpace(raw.Listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(raw.Timeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("timeout: %w", err)
		}
		if d <= 0 || d > constants.MaxTimeout {
			return Config{}, fmt.Errorf("timeout %s out of range (0, %s]", d, constants.MaxTimeout)
		}
		cfg.Timeout = d
	}
	if raw.MaxRedirects != nil {
		if *raw.MaxRedirects < 1 {
			return Config{}, fmt.Errorf("max_redirects must be at least 1, got %d", *raw.MaxRedirects)
		}
		cfg.MaxRedirects = *raw.MaxRedirects
	}
	if v := strings.TrimSpace(raw.ServicePath); v != "" {
		cfg.ServicePath = "/" + strings.TrimLeft(v, "/")
	}
	if v := strings.TrimSpace(raw.Permalink); v != "" {
		cfg.Permalink = v
	}
	if v := strings.TrimSpace(raw.UserAgent); v != "" {
		cfg.UserAgent = v
	}

	for _, p := range raw.Posts {
		slug := strings.Trim(strings.TrimSpace(p.Slug), "/")
		if slug == "" {
			return Config{}, fmt.Errorf("post %q has no slug", p.Title)
		}
		post := Post{
			Slug:         slug,
			Title:        strings.TrimSpace(p.Title),
			PingsEnabled: true,
			Private:      p.Private,
			Content:      p.Content,
		}
		if p.PingsEnabled != nil {
			post.PingsEnabled = *p.PingsEnabled
		}
		cfg.Posts = append(cfg.Posts, post)
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
