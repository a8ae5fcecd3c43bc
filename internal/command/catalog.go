package command

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RepoConfig describes how a repository alias is presented.
type RepoConfig struct {
	Alias       string `yaml:"alias"`
	DisplayName string `yaml:"display_name"`
	GitHub      bool   `yaml:"github"`
}

type catalogFile struct {
	Repos []RepoConfig `yaml:"repos"`
}

// Catalog maps repository aliases to their presentation. Unknown aliases are
// shown as-is and treated as non-GitHub (Backlog) repositories.
type Catalog struct {
	order []string
	repos map[string]RepoConfig
}

// DefaultCatalog returns the built-in aliases.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog([]RepoConfig{
		{Alias: "agent", DisplayName: "dev-assistant-agent", GitHub: true},
		{Alias: "jjp", DisplayName: "jjp-loadsheet-ui", GitHub: true},
		{Alias: "circus_backend"},
		{Alias: "circus_frontend"},
		{Alias: "circus_agent_ecosystem"},
		{Alias: "circus_backend_v2"},
	})
	return c
}

func NewCatalog(repos []RepoConfig) (*Catalog, error) {
	c := &Catalog{repos: make(map[string]RepoConfig, len(repos))}
	for _, r := range repos {
		r.Alias = strings.TrimSpace(r.Alias)
		r.DisplayName = strings.TrimSpace(r.DisplayName)
		if r.Alias == "" {
			return nil, fmt.Errorf("repo alias is required")
		}
		if _, dup := c.repos[r.Alias]; dup {
			return nil, fmt.Errorf("duplicate repo alias %q", r.Alias)
		}
		if r.DisplayName == "" {
			r.DisplayName = r.Alias
		}
		c.repos[r.Alias] = r
		c.order = append(c.order, r.Alias)
	}
	return c, nil
}

// LoadCatalog reads a YAML file of the form:
//
//	repos:
//	  - alias: agent
//	    display_name: dev-assistant-agent
//	    github: true
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse repo catalog %s: %w", path, err)
	}
	return NewCatalog(file.Repos)
}

func (c *Catalog) Lookup(alias string) RepoConfig {
	alias = strings.TrimSpace(alias)
	if c != nil {
		if r, ok := c.repos[alias]; ok {
			return r
		}
	}
	return RepoConfig{Alias: alias, DisplayName: alias}
}

// Aliases returns the configured aliases in file order.
func (c *Catalog) Aliases() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

// IssueLabel is how an issue is referred to in chat messages.
func IssueLabel(repo RepoConfig, issueID string) string {
	if repo.GitHub {
		return "GitHub Issue #" + issueID
	}
	return issueID
}
