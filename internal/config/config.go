package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultConfigPath = "/etc/docsearch/config.json"

// Config matches the JSON schema read by the server and the docsearch CLI.
type Config struct {
	Site         string `json:"site"`
	DocsRoot     string `json:"docs_root"`
	DocsURL      string `json:"docs_url"`
	IndexFile    string `json:"index_path"`
	ContentClass string `json:"content_class"`
	SectionClass string `json:"section_class"`
	FailuresDir  string `json:"failures_dir"`
}

func DefaultPath() string {
	if path := os.Getenv("DOCSEARCH_CONFIG_FILE"); path != "" {
		return path
	}
	return defaultConfigPath
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Site == "" {
		return errors.New("config site is required")
	}
	if c.DocsRoot == "" {
		return errors.New("config docs_root is required")
	}
	return nil
}

// IndexPath is the SQLite database holding the search index.
func (c *Config) IndexPath() string {
	if c.IndexFile != "" {
		return c.IndexFile
	}
	return filepath.Join(c.DocsRoot, ".search", "index.db")
}

func (c *Config) SiteURL() string {
	return strings.TrimRight(c.Site, "/")
}

// ManualsURL is the base URL rendered manuals are served from. Result
// links are built as ManualsURL/<slug>/<relative_url>#<fragment>.
func (c *Config) ManualsURL() string {
	if c.DocsURL != "" {
		return strings.TrimRight(c.DocsURL, "/")
	}
	return c.SiteURL()
}
