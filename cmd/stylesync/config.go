package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/yacobolo/stylesync"
	"github.com/yacobolo/stylesync/internal/resolve"
)

var k = koanf.New(".")

// loadConfig loads configuration with precedence: flags > env > file > defaults.
// It must be called after cobra parses flags (in PreRunE or RunE).
func loadConfig(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = ".stylesync.yaml"
	}

	if err := loadConfigFromPath(configPath); err != nil {
		return err
	}

	// CLI flags (highest precedence — only flags that were explicitly set)
	if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
		return fmt.Errorf("loading command flags: %w", err)
	}
	return nil
}

// loadConfigFromPath loads configuration from a file and environment
// variables. Separated from loadConfig to allow testing without a cobra
// command.
func loadConfigFromPath(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	// STYLESYNC_CHROME_PORT -> chrome.port
	// STYLESYNC_VERBOSE -> verbose
	if err := k.Load(env.Provider("STYLESYNC_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "STYLESYNC_")),
			"_", ".",
		)
	}), nil); err != nil {
		return fmt.Errorf("loading environment variables: %w", err)
	}
	return nil
}

// buildAgentConfig constructs the library's Config struct from koanf state.
// The positional dev-server argument wins over flag and config file.
func buildAgentConfig(args []string) (stylesync.Config, error) {
	devServer := ""
	if len(args) > 0 {
		devServer = args[0]
	}
	if devServer == "" {
		devServer = getStringWithFallback("dev-server", "dev-server", "")
	}
	if devServer == "" {
		return stylesync.Config{}, fmt.Errorf("a dev server URL is required (positional argument or --dev-server)")
	}

	root := getStringWithFallback("project-root", "project-root", "")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return stylesync.Config{}, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return stylesync.Config{}, fmt.Errorf("project root %s is not a directory", root)
	}

	mappings, err := parseMappings(mappingStrings())
	if err != nil {
		return stylesync.Config{}, err
	}

	return stylesync.Config{
		DevServerBase: devServer,
		ChromeHost:    getStringWithFallback("chrome-host", "chrome.host", "localhost"),
		ChromePort:    getIntWithFallback("chrome-port", "chrome.port", 0),
		ProjectRoot:   root,
		Mappings:      mappings,
		LoopGuardTTL:  getDurationWithFallback("loop-guard-ttl", "loop-guard-ttl", 2*time.Second),
		Verbose:       getBoolWithFallback("verbose", "verbose", false),
	}, nil
}

// mappingStrings merges the repeatable --mapping flag with the mappings
// section of the config file.
func mappingStrings() []string {
	if ms := k.Strings("mapping"); len(ms) > 0 {
		return ms
	}
	return k.Strings("mappings")
}

// parseMappings turns "url-prefix=local-prefix" pairs into resolver rules.
func parseMappings(pairs []string) ([]resolve.Mapping, error) {
	var out []resolve.Mapping
	for _, pair := range pairs {
		urlPrefix, localPrefix, ok := strings.Cut(pair, "=")
		if !ok || urlPrefix == "" {
			return nil, fmt.Errorf("invalid mapping %q, want url-prefix=local-prefix", pair)
		}
		out = append(out, resolve.Mapping{URLPrefix: urlPrefix, LocalPrefix: localPrefix})
	}
	return out, nil
}

// getStringWithFallback checks the flag key first, then the config file key, then returns the default.
func getStringWithFallback(flagKey, configKey, defaultVal string) string {
	if v := k.String(flagKey); v != "" {
		return v
	}
	if v := k.String(configKey); v != "" {
		return v
	}
	return defaultVal
}

// getBoolWithFallback checks the flag key first, then the config file key, then returns the default.
func getBoolWithFallback(flagKey, configKey string, defaultVal bool) bool {
	if k.Exists(flagKey) {
		return k.Bool(flagKey)
	}
	if k.Exists(configKey) {
		return k.Bool(configKey)
	}
	return defaultVal
}

// getIntWithFallback checks the flag key first, then the config file key, then returns the default.
func getIntWithFallback(flagKey, configKey string, defaultVal int) int {
	if k.Exists(flagKey) {
		return k.Int(flagKey)
	}
	if k.Exists(configKey) {
		return k.Int(configKey)
	}
	return defaultVal
}

// getDurationWithFallback checks the flag key first, then the config file key, then returns the default.
func getDurationWithFallback(flagKey, configKey string, defaultVal time.Duration) time.Duration {
	if k.Exists(flagKey) {
		return k.Duration(flagKey)
	}
	if k.Exists(configKey) {
		return k.Duration(configKey)
	}
	return defaultVal
}
