package main

import (
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stylesync [dev-server-url]",
	Short: "Write DevTools CSS edits back to source files",
	Long: `stylesync attaches to a Chrome tab through the DevTools protocol,
watches the stylesheet edits you make in the inspector, and patches the
changed declarations into the authored CSS/SCSS files — through Vite inline
styles, webpack source maps, and CSS-module hashed class names.

Start Chrome with --remote-debugging-port=9222, open the dev server, then
run stylesync from the project root.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		return runAgent(cmd, args)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global persistent flags (inherited by all subcommands)
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().Bool("color", false, "Force color output")
	rootCmd.PersistentFlags().String("config", ".stylesync.yaml", "Config file path")

	f := rootCmd.Flags()
	f.String("dev-server", "", "Dev server URL prefix (alternative to the positional argument)")
	f.String("chrome-host", "localhost", "Chrome debug host")
	f.Int("chrome-port", 0, "Chrome debug port (0 probes 9222, 9333, 9229, 9230)")
	f.String("project-root", "", "Project root directory (default: working directory)")
	f.StringSlice("mapping", nil, "URL-prefix to local-prefix rule, url=local (repeatable)")
	f.Duration("loop-guard-ttl", 2*time.Second, "How long self-written changes are suppressed")

	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(versionCmd)
}
