/*
main.go - Application entry point

PURPOSE:
  Starts the taskledger CLI. "serve" runs the HTTP API and the session
  ticker; the other commands are offline administration tools.

CONFIGURATION:
  --config taskledger.toml (missing file falls back to defaults), then
  .env, then TASKLEDGER_* environment variables. See config/config.go.

EXAMPLES:
  # Run the server
  ./taskledger serve

  # Approve a participant
  ./taskledger users approve alice

  # Add a 30 second task paying 2.50
  ./taskledger tasks add https://ads.example.com/x --reward 2.50 --duration 30

SEE ALSO:
  - serve.go: Server startup and graceful shutdown
  - api/server.go: Router configuration
*/
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
