// TaskPilot is a conversational task assistant backed by an LLM.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "TaskPilot is a conversational task assistant backed by an LLM.",
	Long: `TaskPilot turns natural language into task management. Users chat with it
over HTTP or WebSocket; the agent calls task tools (create, list, update,
complete, delete) on their behalf and keeps every conversation persisted
per user.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, chatCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
