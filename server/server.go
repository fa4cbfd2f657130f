// Package server exposes the live websocket bridge and the text endpoints.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/room4-2/kolokwa/chat"
	"github.com/room4-2/kolokwa/config"
	"github.com/room4-2/kolokwa/messages"
	"github.com/room4-2/kolokwa/session"
	"github.com/room4-2/kolokwa/style"
)

const maxBodyBytes = 1 << 20

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	chat           *chat.Client
	relay          http.Handler
	config         *config.Config
}

// New wires the routes. relay serves /api/chat.
func New(cfg *config.Config, sessionManager *session.Manager, chatClient *chat.Client, relay http.Handler) *Server {
	s := &Server{
		sessionManager: sessionManager,
		chat:           chatClient,
		relay:          relay,
		config:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// text replies can take a while
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/live", s.handleLive)
	mux.HandleFunc("/api/respond", s.handleRespond)
	mux.Handle("/api/chat", s.relay)
	mux.HandleFunc("/api/styles", s.handleStyles)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("🚀 Server starting")
	log.Info().Msgf("📡 Live endpoint: ws://localhost:%d/ws/live", s.config.Port)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes every session, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("🛑 Shutting down server...")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	st, err := style.Parse(r.URL.Query().Get("style"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ WebSocket upgrade failed")
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn, st)
	if err != nil {
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, session.ErrMaxSessions) {
			code = messages.ErrCodeRateLimited
		}
		log.Error().Err(err).Str("code", code).Msg("❌ Failed to create session")
		if data, encErr := messages.Encode(messages.NewErrorMessage("", code, err.Error())); encErr == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			_ = conn.WriteMessage(websocket.TextMessage, data)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, code))
		}
		_ = conn.Close()
		return
	}

	log.Info().Str("session", clientSession.ID).Str("style", string(st)).Msg("✅ New session created")
	clientSession.Start()

	<-clientSession.CloseChan

	s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
	log.Info().Str("session", clientSession.ID).Msg("🔌 Session closed")
}

type respondRequest struct {
	History []chat.Turn `json:"history"`
	Prompt  string      `json:"prompt"`
	Style   string      `json:"style"`
}

type respondResponse struct {
	Text string    `json:"text"`
	Kind chat.Kind `json:"kind"`
}

type errorBody struct {
	Error string `json:"error"`
}

// handleRespond answers one text turn. Backend failures still return 200
// with a fallback text; only malformed requests are rejected.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req respondRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "prompt is required"})
		return
	}
	st, err := style.Parse(req.Style)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	res := s.chat.Respond(r.Context(), req.History, req.Prompt, st)
	writeJSON(w, http.StatusOK, respondResponse{Text: res.Text, Kind: res.Kind})
}

type stylesResponse struct {
	Default   style.Style      `json:"default"`
	Styles    []style.Option   `json:"styles"`
	Shortcuts []style.Shortcut `json:"shortcuts"`
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, stylesResponse{
		Default:   style.Default,
		Styles:    style.Options(),
		Shortcuts: style.Shortcuts(0),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessionManager.GetActiveSessionCount(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
