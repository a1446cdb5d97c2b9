package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberhollow/storywalk/pkg/protocol"
	"github.com/emberhollow/storywalk/pkg/storydb"
)

// WebConfig holds configuration for the web server.
type WebConfig struct {
	Host        string
	Port        int
	JWTSecret   string
	JWTExpiry   int
	CORSOrigins []string
}

// WebServer provides HTTP endpoints (health, metrics, REST) and a WebSocket
// transport that carries the same framed protocol as the TCP listener.
type WebServer struct {
	server   *Server
	httpSrv  *http.Server
	mux      *http.ServeMux
	auth     *AuthService
	upgrader websocket.Upgrader
}

// NewWebServer creates a web server bound to the game server.
func NewWebServer(s *Server, cfg WebConfig) *WebServer {
	ws := &WebServer{
		server: s,
		mux:    http.NewServeMux(),
		auth:   NewAuthService(s.Accounts, cfg.JWTSecret, cfg.JWTExpiry),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.CORSOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range cfg.CORSOrigins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
	ws.registerRoutes(cfg)
	return ws
}

// Auth returns the auth service for external use.
func (ws *WebServer) Auth() *AuthService {
	return ws.auth
}

// registerRoutes sets up all HTTP routes.
func (ws *WebServer) registerRoutes(cfg WebConfig) {
	handler := corsMiddleware(cfg.CORSOrigins, ws.mux)
	ws.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: handler,
	}

	// WebSocket transport
	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)

	// Auth endpoints
	ws.mux.HandleFunc("POST /api/v1/auth/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/v1/auth/refresh", ws.handleAuthRefresh)

	// Read-only game state, JWT protected
	ws.mux.Handle("GET /api/v1/roster",
		authMiddleware(ws.auth, true, http.HandlerFunc(ws.handleRoster)))
	ws.mux.Handle("GET /api/v1/stories",
		authMiddleware(ws.auth, true, http.HandlerFunc(ws.handleStories)))

	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	ws.mux.Handle("GET /metrics", ws.server.metrics.Handler())
}

// Start begins serving HTTP. Blocks until the server is shut down.
func (ws *WebServer) Start() error {
	log.Printf("Web server listening on %s", ws.httpSrv.Addr)
	err := ws.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the web server down.
func (ws *WebServer) Stop(ctx context.Context) error {
	return ws.httpSrv.Shutdown(ctx)
}

// wsFramer adapts a websocket connection to the protocol.Framer interface:
// one websocket binary message per frame, no length prefix needed because
// websocket preserves message boundaries.
type wsFramer struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (f *wsFramer) ReadFrame() ([]byte, error) {
	if f.readTimeout > 0 {
		f.conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	}
	_, data, err := f.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *wsFramer) WriteFrame(payload []byte) error {
	f.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return f.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (f *wsFramer) Close() error {
	return f.conn.Close()
}

// handleWebSocket upgrades the HTTP connection and runs the standard session
// loop over it, handshake included.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	remoteAddr := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			remoteAddr = strings.TrimSpace(xff[:idx])
		} else {
			remoteAddr = strings.TrimSpace(xff)
		}
	}

	framer := &wsFramer{conn: wsConn, readTimeout: ws.server.Conf.readTimeout()}
	sess := NewSession(ws.server.Sessions.NextID(), framer, remoteAddr, TransportWebSocket)
	ws.server.runSession(sess)
}

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	token, err := ws.auth.Login(req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	token, err := ws.auth.RefreshToken(req.Token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (ws *WebServer) handleRoster(w http.ResponseWriter, r *http.Request) {
	snap := ws.server.Roster.Snapshot()
	roster := protocol.Roster{
		NumPlayers: len(snap),
		Players:    make([]protocol.PlayerState, 0, len(snap)),
	}
	for _, e := range snap {
		roster.Players = append(roster.Players, protocol.PlayerState{
			Username: e.Username,
			PosX:     e.PosX,
			PosY:     e.PosY,
		})
	}
	writeJSON(w, roster)
}

func (ws *WebServer) handleStories(w http.ResponseWriter, r *http.Request) {
	stories, err := ws.server.Stories.All()
	if err != nil {
		http.Error(w, `{"error":"story store unavailable"}`, http.StatusInternalServerError)
		return
	}
	if stories == nil {
		stories = []storydb.Story{}
	}
	writeJSON(w, stories)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"name":     ws.server.Conf.ServerName,
		"sessions": ws.server.Sessions.Count(),
		"players":  ws.server.Roster.Count(),
		"uptime":   int(time.Since(ws.server.startTime).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
