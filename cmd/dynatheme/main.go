// Command dynatheme switches the editor color theme by time of day.
//
// "dynatheme run" is the long-running daemon; the other subcommands work
// directly on the configured settings store.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
