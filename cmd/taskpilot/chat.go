package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the chat command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	chatMessage   string
	chatServerURL string
	chatAPIKey    string
	chatTimeout   int
	chatConvID    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send a one-shot chat message to a running server",
	Long: `Send a message to a running TaskPilot server and print the reply.
The message runs as one full agent turn: the model may call task tools
before answering. Pass --conversation-id to continue an earlier thread;
without it the server starts a new conversation and prints its ID.

Examples:
  taskpilot chat -m "remind me to buy milk tomorrow"
  taskpilot chat -m "what's still open?" --conversation-id 8f14e45f-ceea-4e5b-b151-f33dd0430a1c

Exit codes:
  0  success
  1  execution failure
  2  unauthorized or rate limited
  3  server unavailable`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "message to send (required)")
	chatCmd.Flags().StringVar(&chatServerURL, "server-url", "http://localhost:8080", "TaskPilot server URL")
	chatCmd.Flags().StringVar(&chatAPIKey, "api-key", "", "API key for authentication (or TASKPILOT_API_KEY env)")
	chatCmd.Flags().IntVar(&chatTimeout, "timeout", 120, "timeout in seconds")
	chatCmd.Flags().StringVar(&chatConvID, "conversation-id", "", "conversation ID for multi-turn context")

	_ = chatCmd.MarkFlagRequired("message")
}

func runChat(_ *cobra.Command, _ []string) error {
	if chatMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}

	// Resolve API key from flag or env.
	apiKey := goutils.Env("TASKPILOT_API_KEY", chatAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set TASKPILOT_API_KEY)")
		os.Exit(ExitDenied)
	}

	// Resolve server URL from flag or env.
	serverURL := goutils.Env("TASKPILOT_SERVER_URL", chatServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(chatTimeout)*time.Second)
	defer cancel()

	reqBody, _ := json.Marshal(map[string]any{
		"message":         chatMessage,
		"conversation_id": chatConvID,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/chat", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			Message        string `json:"message"`
			ConversationID string `json:"conversation_id"`
			CorrelationID  string `json:"correlation_id"`
			TokensUsed     int    `json:"tokens_used"`
		}
		_ = json.Unmarshal(respBody, &result)
		fmt.Println(result.Message)
		fmt.Fprintf(os.Stderr, "\n[conversation_id=%s correlation_id=%s tokens=%d]\n",
			result.ConversationID, result.CorrelationID, result.TokensUsed)
		os.Exit(ExitSuccess)

	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitDenied)

	case http.StatusNotFound:
		fmt.Fprintln(os.Stderr, "Error: conversation not found (check --conversation-id)")
		os.Exit(ExitFailure)

	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitDenied)

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)

	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}

	return nil
}
