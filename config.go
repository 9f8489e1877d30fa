package stylesync

import (
	"log/slog"
	"os"
	"time"

	"github.com/yacobolo/stylesync/internal/resolve"
)

// Config is the agent configuration received at startup.
type Config struct {
	// DevServerBase is the URL prefix used both to find the browser tab and
	// to anchor the URL resolver. Required.
	DevServerBase string

	// ChromeHost and ChromePort locate the CDP endpoint. An unset port
	// enables probing of the well-known debug ports.
	ChromeHost string
	ChromePort int

	// ProjectRoot anchors all resolvers. Default: current working directory.
	ProjectRoot string

	// Mappings are user URL-prefix to local-prefix rules, consulted before
	// the built-in URL heuristics.
	Mappings []resolve.Mapping

	// LoopGuardTTL bounds self-write suppression. Default 2s.
	LoopGuardTTL time.Duration

	// PollInterval paces the fresh-fetch polling loop. Default 1s.
	PollInterval time.Duration

	// ReloadSettle is how long to let the page load after the initial
	// reload before annotating sources and starting the poller. Default 3s.
	ReloadSettle time.Duration

	// Verbose emits diagnostic lines.
	Verbose bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ChromeHost == "" {
		c.ChromeHost = "localhost"
	}
	if c.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			c.ProjectRoot = wd
		}
	}
	if c.LoopGuardTTL <= 0 {
		c.LoopGuardTTL = DefaultLoopGuardTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReloadSettle <= 0 {
		c.ReloadSettle = 3 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
