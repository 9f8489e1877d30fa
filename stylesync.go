// Package stylesync bridges a CDP-enabled browser and on-disk CSS/SCSS
// sources: declarations edited in DevTools are written back into the
// authored files, even when the live stylesheet is a compiled bundler
// artifact.
//
// # Usage
//
// Configure and run the agent against a dev server tab:
//
//	cfg := stylesync.Config{
//		DevServerBase: "http://localhost:3000",
//		ProjectRoot:   "/home/me/app",
//	}
//	agent := stylesync.NewAgent(cfg)
//	err := agent.Run(ctx)
//
// The agent attaches to the first page whose URL starts with DevServerBase,
// tracks every live stylesheet (including inline <style> elements injected
// by Vite or webpack), diffs each change event into per-declaration edits,
// resolves the authored source file, and patches the single declaration in
// place, preserving formatting, comments and SCSS structure.
//
// # CLI Tool
//
// stylesync also provides a CLI tool. Install with:
//
//	go install github.com/yacobolo/stylesync/cmd/stylesync@latest
//
// Run it from the project root with Chrome started with
// --remote-debugging-port:
//
//	stylesync http://localhost:3000
package stylesync
