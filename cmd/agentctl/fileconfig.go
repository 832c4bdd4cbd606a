package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional --config file's shape: the same knobs as the
// persistent flags, so a team can check a default profile into source
// control instead of repeating flags on every invocation. Grounded on the
// teacher's internal/config.Load — env-var expansion over the raw file
// text before decoding, and KnownFields(true) so a typo'd key fails loudly
// instead of being silently ignored.
type fileConfig struct {
	Store          string `yaml:"store"`
	Provider       string `yaml:"provider"`
	Model          string `yaml:"model"`
	SystemPrompt   string `yaml:"system_prompt"`
	PermissionMode string `yaml:"permission_mode"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentctl: read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	var cfg fileConfig
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("agentctl: parse config file: %w", err)
	}
	return &cfg, nil
}

// applyFileConfig lets values from --config fill in any persistent flag the
// caller didn't explicitly set on the command line; an explicit flag always
// wins over the file.
func applyFileConfig(cmd *cobra.Command, cfg *fileConfig) {
	set := func(name string, dst *string, val string) {
		if val == "" || cmd.Flags().Changed(name) {
			return
		}
		*dst = val
	}
	set("store", &flags.storePath, cfg.Store)
	set("provider", &flags.providerName, cfg.Provider)
	set("model", &flags.model, cfg.Model)
	set("system", &flags.systemPrompt, cfg.SystemPrompt)
	set("permission-mode", &flags.permissionMode, cfg.PermissionMode)
}
