package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" -o umi ./cmd
var Version = "dev"

const usage = `umi - editor bridge to the Umi code-intelligence backend

Usage:
  umi <command> [options]

Commands:
  run       Bridge an editor over stdin/stdout (newline-delimited JSON)
  doctor    Check configuration, backend reachability and telemetry storage
  stats     Show local accept/reject telemetry
  init      Write a starter config to ~/.umi/config.toml
  version   Print the version
Run 'umi <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "run":
		return runBridge(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "stats":
		return runStats(args[2:], stdout, stderr)
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "umi %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
