// Command mailfiler is the operator tool: it runs the webhook server and
// files individual objects or saved events by hand.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "serve":
		handleServe()
	case "process":
		handleProcess()
	case "replay":
		handleReplay()
	case "sanitize":
		handleSanitize()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`mailfiler

Usage:
  mailfiler <command> [options]

Commands:
  serve      Run the webhook server for S3 bucket notifications
  process    File a single object
  replay     Run a saved S3 event through the processor
  sanitize   Print the sanitized form of a value
  help       Show this help message

Examples:
  mailfiler serve --config /etc/mailfiler/config.toml
  mailfiler process --bucket mail-bucket --key inbound/0a1b2c3d
  mailfiler replay --event event.json
  mailfiler sanitize --filename "Re: Q3 report"

Configuration is read from --config (or MAILFILER_CONFIG) and the
environment; environment variables take precedence over the file.

Use 'mailfiler <command> --help' for more information about a command.
`)
}
