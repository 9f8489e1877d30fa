// Package main provides the stylesync CLI: a live bridge that writes CSS
// edits made in the browser's DevTools back into the project's source files.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stylesync: %v\n", err)
		os.Exit(1)
	}
}
