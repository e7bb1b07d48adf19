package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FolderRule maps a vault-relative folder prefix to a project name.
type FolderRule struct {
	Folder  string `yaml:"folder" json:"folder"`
	Project string `yaml:"project" json:"project"`
}

// TagRule maps a tag to a project name.
type TagRule struct {
	Tag     string `yaml:"tag" json:"tag"`
	Project string `yaml:"project" json:"project"`
}

// SectionRule maps a section heading pattern to a project name.
// Pattern is a regular expression matched case-insensitively; an
// invalid pattern is treated as a literal substring.
type SectionRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Project string `yaml:"project" json:"project"`
}

// SyncConfig holds the sync mapping configuration. Rule lists are
// ordered: resolution is first-match-wins in declaration order, so
// they must stay slices, not maps.
type SyncConfig struct {
	VaultPath   string   `yaml:"vault_path" json:"vault_path"`
	SyncSources []string `yaml:"sync_sources" json:"sync_sources"`

	FolderRules  []FolderRule  `yaml:"folder_mapping" json:"folder_mapping"`
	TagRules     []TagRule     `yaml:"tag_mapping" json:"tag_mapping"`
	SectionRules []SectionRule `yaml:"section_mapping" json:"section_mapping"`

	DefaultProject            string `yaml:"default_project" json:"default_project"`
	DefaultConflictResolution string `yaml:"default_conflict_resolution" json:"default_conflict_resolution"`

	// RunTimeout bounds a single sync run, e.g. "10m". Empty means
	// the built-in default.
	RunTimeout string `yaml:"run_timeout" json:"run_timeout"`
}

// DefaultRunTimeout is used when run_timeout is empty or invalid.
const DefaultRunTimeout = 10 * time.Minute

// Load reads a SyncConfig from a YAML file.
func Load(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &SyncConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns the built-in configuration used when no config file
// is provided.
func Default() *SyncConfig {
	cfg := &SyncConfig{
		SyncSources: []string{
			"00_Inbox/**/*.md",
			"01_Projects/*/Tasks.md",
			"02_Areas/*/TODO.md",
		},
		FolderRules: []FolderRule{
			{Folder: "02_Areas/Health", Project: "Health"},
			{Folder: "02_Areas/Finance", Project: "Finance"},
		},
		TagRules: []TagRule{
			{Tag: "health", Project: "Health"},
			{Tag: "family", Project: "Family"},
			{Tag: "work", Project: "Work"},
			{Tag: "learning", Project: "Learning"},
		},
		SectionRules: []SectionRule{
			{Pattern: "Health", Project: "Health"},
			{Pattern: "Family", Project: "Family"},
			{Pattern: "Finance|Crypto", Project: "Finance"},
			{Pattern: "Learning", Project: "Learning"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *SyncConfig) applyDefaults() {
	if c.DefaultProject == "" {
		c.DefaultProject = "Inbox"
	}
	if c.DefaultConflictResolution == "" {
		c.DefaultConflictResolution = "ask"
	}
}

// Timeout returns the parsed run timeout.
func (c *SyncConfig) Timeout() time.Duration {
	if c.RunTimeout == "" {
		return DefaultRunTimeout
	}
	d, err := time.ParseDuration(c.RunTimeout)
	if err != nil || d <= 0 {
		return DefaultRunTimeout
	}
	return d
}
