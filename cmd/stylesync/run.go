package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yacobolo/stylesync"
	"github.com/yacobolo/stylesync/internal/devtools"
	"github.com/yacobolo/stylesync/internal/term"
)

// runAgent builds the agent from the loaded configuration and drives it
// until interrupted. Startup failures — unreachable endpoint, missing tab,
// missing project dir — are the only fatal exits.
func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := buildAgentConfig(args)
	if err != nil {
		return err
	}

	useColors, _ := cmd.Flags().GetBool("color")
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	printBanner(cfg, useColors)

	agent := stylesync.NewAgent(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		printFatal(agent, cfg, err, useColors)
		return err
	}
	fmt.Println(term.Render(term.StyleGray, "stylesync stopped", useColors))
	return nil
}

func printBanner(cfg stylesync.Config, useColors bool) {
	fmt.Println(term.Render(term.StyleCyan, "stylesync", useColors))
	fmt.Printf("  dev server:   %s\n", cfg.DevServerBase)
	if cfg.ChromePort == 0 {
		fmt.Printf("  cdp endpoint: %s (probing %v)\n", cfg.ChromeHost, devtools.ProbePorts)
	} else {
		fmt.Printf("  cdp endpoint: %s:%d\n", cfg.ChromeHost, cfg.ChromePort)
	}
	fmt.Printf("  project root: %s\n", cfg.ProjectRoot)
	for _, m := range cfg.Mappings {
		fmt.Printf("  mapping:      %s -> %s\n", m.URLPrefix, m.LocalPrefix)
	}
	fmt.Println(term.Render(term.StyleGreen, "watching for DevTools edits — ctrl-c to stop", useColors))
}

// printFatal explains the two startup fatals: how to expose the debug port,
// and which tabs were actually open when the dev-server tab was missing.
func printFatal(agent *stylesync.Agent, cfg stylesync.Config, err error, useColors bool) {
	switch {
	case errors.Is(err, devtools.ErrConnectionRefused):
		fmt.Fprintln(os.Stderr, term.Render(term.StyleRed, "could not reach the Chrome debug endpoint", useColors))
		port := cfg.ChromePort
		if port == 0 {
			port = devtools.ProbePorts[0]
		}
		fmt.Fprintf(os.Stderr, "start Chrome with:\n  google-chrome --remote-debugging-port=%d\n", port)

	case errors.Is(err, devtools.ErrTabNotFound):
		fmt.Fprintln(os.Stderr, term.Render(term.StyleRed,
			fmt.Sprintf("no open tab starts with %s", cfg.DevServerBase), useColors))
		tabs := agent.Tabs()
		if len(tabs) > 0 {
			fmt.Fprintln(os.Stderr, "open tabs:")
			for _, t := range tabs {
				fmt.Fprintf(os.Stderr, "  %s  %s\n", t.URL, term.Render(term.StyleGray, t.Title, useColors))
			}
		}
	}
}
