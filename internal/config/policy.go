package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/apiscope/internal/policy"
)

// PolicyFile is the destination policy YAML document.
type PolicyFile struct {
	BlockedDomains []string `yaml:"blocked_domains"`
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
}

// LoadPolicyFile reads and validates a destination policy YAML file.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy config: %w", err)
	}
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("policy config: %w", err)
	}
	for i, d := range pf.BlockedDomains {
		if strings.TrimSpace(d) == "" {
			return nil, fmt.Errorf("policy config: blocked_domains[%d] is empty", i)
		}
	}
	for i, d := range pf.AllowedDomains {
		if strings.TrimSpace(d) == "" {
			return nil, fmt.Errorf("policy config: allowed_domains[%d] is empty", i)
		}
	}
	return &pf, nil
}

// Policy builds the destination policy from the environment flags and the
// optional policy file. A missing file means no domain lists.
func (c *Config) Policy() (*policy.Policy, error) {
	opts := policy.Options{AllowPrivate: c.AllowPrivate}
	if c.PolicyFile != "" {
		pf, err := LoadPolicyFile(c.PolicyFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			opts.BlockedDomains = pf.BlockedDomains
			opts.AllowedDomains = pf.AllowedDomains
		}
	}
	return policy.New(opts), nil
}
