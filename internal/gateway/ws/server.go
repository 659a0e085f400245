// Package ws implements the WebSocket chat endpoint. A client connects,
// authenticates with the same API keys as the HTTP routes, and exchanges
// JSON envelopes: one chat.message in, one chat.reply or error out. Turns
// on a connection run one at a time, in arrival order.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/taskpilot/internal/agent"
	"github.com/jkaninda/taskpilot/internal/chat"
	"github.com/jkaninda/taskpilot/internal/observability"
	"github.com/jkaninda/taskpilot/internal/ratelimit"
)

// Subprotocol is the WebSocket subprotocol spoken by the chat socket.
const Subprotocol = "taskpilot-chat-v1"

// Server upgrades HTTP requests to WebSocket chat sessions.
type Server struct {
	agent   agent.Agent
	apiKeys map[string]string // API key → user ID, same mapping as the HTTP routes.
	limiter *ratelimit.Limiter
	metrics *observability.MetricsCollector
	logger  *slog.Logger
}

// NewServer creates a WebSocket chat server.
func NewServer(a agent.Agent, apiKeys map[string]string, rl *ratelimit.Limiter, logger *slog.Logger) *Server {
	return &Server{
		agent:   a,
		apiKeys: apiKeys,
		limiter: rl,
		logger:  logger,
	}
}

// WithMetrics attaches the metrics collector for the connection gauge.
func (s *Server) WithMetrics(m *observability.MetricsCollector) *Server {
	s.metrics = m
	return s
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveWSConnections.Inc()
		defer s.metrics.ActiveWSConnections.Dec()
	}

	s.handleConnection(r.Context(), conn, userID)
}

// authenticate resolves the API key from the token query parameter or the
// Authorization header. Every key is compared so lookup time does not
// depend on which key matched.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return "", false
	}

	userID := ""
	for key, mappedID := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			userID = mappedID
		}
	}
	return userID, userID != ""
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, userID string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	s.logger.Info("chat socket connected", slog.String("user_id", userID))

	// Sequential loop: the next frame is not read until the current turn
	// finished, so a connection never has two turns in flight.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("chat socket closed", slog.String("user_id", userID))
			} else {
				s.logger.Warn("chat socket read error",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.writeError(ctx, conn, CodeBadMessage, "invalid JSON frame")
			continue
		}

		switch env.Type {
		case MsgChat:
			s.handleChat(ctx, conn, userID, &env)
		default:
			s.writeError(ctx, conn, CodeBadMessage, fmt.Sprintf("unsupported message type %q", env.Type))
		}
	}
}

func (s *Server) handleChat(ctx context.Context, conn *websocket.Conn, userID string, env *Envelope) {
	var payload ChatPayload
	if err := env.Decode(&payload); err != nil {
		s.writeError(ctx, conn, CodeBadMessage, "invalid chat payload")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		s.writeError(ctx, conn, CodeBadMessage, "message is required")
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(userID); err != nil {
			if s.metrics != nil {
				s.metrics.RateLimitedTotal.Inc()
			}
			s.writeError(ctx, conn, CodeRateLimited, "rate limit exceeded")
			return
		}
	}

	correlationID := uuid.New().String()

	s.logger.Info("ws chat",
		slog.String("user_id", userID),
		slog.String("correlation_id", correlationID),
		slog.String("conversation_id", payload.ConversationID),
	)

	result, err := s.agent.ProcessTurn(ctx, &agent.TurnRequest{
		UserID:         userID,
		ConversationID: payload.ConversationID,
		Message:        payload.Message,
		CorrelationID:  correlationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrConversationNotFound):
			s.writeError(ctx, conn, CodeNotFound, "conversation not found")
		case errors.Is(err, agent.ErrModelUnavailable):
			s.writeError(ctx, conn, CodeModelUnavailable, "model unavailable, retry later")
		default:
			s.logger.Error("ws turn failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			s.writeError(ctx, conn, CodeInternal, "processing failed")
		}
		return
	}

	reply, _ := NewEnvelope(MsgReply, ReplyPayload{
		Message:        result.Response,
		ConversationID: result.ConversationID.String(),
		CorrelationID:  correlationID,
		TokensUsed:     result.TokensUsed,
		ToolCalls:      len(result.ToolResults),
	})
	if err := s.writeEnvelope(ctx, conn, reply); err != nil {
		s.logger.Warn("chat socket write failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	env, _ := NewEnvelope(MsgError, ErrorPayload{Code: code, Message: message})
	if err := s.writeEnvelope(ctx, conn, env); err != nil {
		s.logger.Debug("chat socket error write failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
