// Package api exposes the decision core over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/helios-trade/decision-core/internal/events"
	"github.com/helios-trade/decision-core/internal/feed"
	"github.com/helios-trade/decision-core/internal/history"
	"github.com/helios-trade/decision-core/internal/metrics"
	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/phase"
	"github.com/helios-trade/decision-core/internal/pipeline"
	"github.com/helios-trade/decision-core/internal/risk"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr         string        `json:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultConfig returns the standard server settings.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8090",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Deps are the components the API reads from and controls.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Optimizer *optimizer.Optimizer
	Phases    *phase.Manager
	Risk      *risk.Manager
	Store     history.Store
	Buffer    *feed.Buffer
	Bus       *events.Bus
	Metrics   *metrics.Metrics
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     Config
	deps       Deps
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*client
}

// client is one connected WebSocket consumer.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewServer creates the API server and subscribes it to the event bus so
// every pipeline event is streamed to connected WebSocket clients.
func NewServer(logger *zap.Logger, config Config, deps Deps) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		config:  config,
		deps:    deps,
		router:  mux.NewRouter(),
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	deps.Bus.Subscribe(s.broadcastEvent, nil)
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")

	s.router.HandleFunc("/api/v1/phase", s.handleGetPhase).Methods("GET")
	s.router.HandleFunc("/api/v1/phase/pin", s.handlePinPhase).Methods("POST")
	s.router.HandleFunc("/api/v1/phase/unrestricted", s.handleUnrestricted).Methods("POST")

	s.router.HandleFunc("/api/v1/optimizer/{strategy}", s.handleGetParameters).Methods("GET")
	s.router.HandleFunc("/api/v1/optimizer/{strategy}/history", s.handleGetOptimizerHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/optimizer/{strategy}/run", s.handleForceOptimize).Methods("POST")
	s.router.HandleFunc("/api/v1/optimizer/{strategy}/export", s.handleExportState).Methods("GET")
	s.router.HandleFunc("/api/v1/optimizer/import", s.handleImportState).Methods("POST")

	s.router.HandleFunc("/api/v1/risk/stats", s.handleRiskStats).Methods("GET")
	s.router.HandleFunc("/api/v1/trades/{pair:.+}", s.handleGetTrades).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{}))
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start begins serving. It blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting API server", zap.String("addr", s.config.Addr))
	return s.httpServer.ListenAndServe()
}

// Stop closes WebSocket clients and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":   s.deps.Pipeline.Balance(),
		"positions": s.deps.Pipeline.OpenPositions(),
		"phase":     s.deps.Phases.CurrentPhase(),
		"risk":      s.deps.Risk.Stats(),
		"events":    s.deps.Bus.Stats(),
	})
}

func (s *Server) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase":      s.deps.Phases.CurrentPhase(),
		"tradeCount": s.deps.Phases.TradeCount(),
	})
}

func (s *Server) handlePinPhase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"` // -1 returns to automatic selection
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.deps.Phases.PinPhase(req.Index)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase": s.deps.Phases.CurrentPhase(),
	})
}

func (s *Server) handleUnrestricted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.deps.Phases.SetUnrestricted(req.Enabled)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"phase": s.deps.Phases.CurrentPhase(),
	})
}

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	strategy := mux.Vars(r)["strategy"]
	params, ok := s.deps.Optimizer.CurrentParameters(strategy)
	if !ok {
		http.Error(w, "unknown strategy", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, params)
}

func (s *Server) handleGetOptimizerHistory(w http.ResponseWriter, r *http.Request) {
	strategy := mux.Vars(r)["strategy"]
	hist := s.deps.Optimizer.History(strategy)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy": strategy,
		"rounds":   hist,
		"count":    len(hist),
	})
}

// handleForceOptimize runs an optimization round immediately over the
// requested symbol's buffered window, bypassing the sample-count trigger.
func (s *Server) handleForceOptimize(w http.ResponseWriter, r *http.Request) {
	strategy := mux.Vars(r)["strategy"]
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		http.Error(w, "body must name a symbol", http.StatusBadRequest)
		return
	}
	window := s.deps.Buffer.Window(req.Symbol)
	if len(window) == 0 {
		http.Error(w, "no buffered samples for symbol", http.StatusConflict)
		return
	}
	params := s.deps.Optimizer.Optimize(strategy, window)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":   strategy,
		"parameters": params,
		"window":     len(window),
	})
}

func (s *Server) handleExportState(w http.ResponseWriter, r *http.Request) {
	strategy := mux.Vars(r)["strategy"]
	data, err := s.deps.Optimizer.Export(strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleImportState(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.deps.Optimizer.Import(raw); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"imported": true})
}

func (s *Server) handleRiskStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Risk.Stats())
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	trades, err := s.deps.Store.RecentTrades(r.Context(), pair, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pair":   pair,
		"trades": trades,
		"count":  len(trades),
	})
}

// broadcastEvent fans one bus event out to every connected client. A client
// that cannot keep up has its send buffer dropped on the floor.
func (s *Server) broadcastEvent(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Info("websocket client connected", zap.String("id", c.id))

	go s.readPump(c)
	go s.writePump(c)
}

// readPump drains client messages; the stream is one-way, anything the
// client sends is discarded, but reads drive disconnect detection.
func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.conn.Close()
		close(c.send)
		s.logger.Info("websocket client disconnected", zap.String("id", c.id))
	}()

	c.conn.SetReadLimit(32 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
