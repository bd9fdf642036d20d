// Package statusapi exposes a read-only operational surface (spec
// supplement): REST endpoints for queue/agent/budget snapshots plus a
// WebSocket feed of lifecycle events, so an operator can watch
// agentrelay without touching the tracker UI. Grounded on the
// teacher's internal/orchestrator/api (gin route group + handler
// struct) and internal/orchestrator/streaming (hub-backed WS feed),
// narrowed from per-task subscriptions to a single global feed since
// this system runs one agent per task rather than multiplexed
// sessions.
package statusapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaydev/agentrelay/internal/agentmanager"
	"github.com/relaydev/agentrelay/internal/history"
	"github.com/relaydev/agentrelay/internal/obslog"
	"github.com/relaydev/agentrelay/internal/queue"
	v1 "github.com/relaydev/agentrelay/pkg/api/v1"
)

// Manager is the subset of agentmanager.Manager the status surface reads.
type Manager interface {
	GetActiveAgents() map[string]v1.ActiveAgent
	GetDailySpend() float64
	GetDailyBudget() float64
}

var _ Manager = (*agentmanager.Manager)(nil)

// Queue is the subset of queue.Queue the status surface reads.
type Queue interface {
	Entries() []v1.QueueEntry
	Size() int
}

var _ Queue = (*queue.Queue)(nil)

// History is the subset of history.Store the status surface reads.
// Optional: a nil History means /history endpoints report empty.
type History interface {
	ForTask(ctx context.Context, issueID string) ([]history.Event, error)
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

var _ History = (*history.Store)(nil)

// Server hosts the gin router and the event hub it publishes to.
type Server struct {
	manager Manager
	queue   Queue
	history History
	hub     *Hub
	log     *obslog.Logger

	engine *gin.Engine
}

// NewServer builds the router. manager and hist may be nil; set
// manager afterward with SetManager once it's constructed (the
// agentmanager.Manager constructor itself takes this server's Hub, so
// the two must be wired in two steps).
func NewServer(manager Manager, q Queue, hist History, log *obslog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		manager: manager,
		queue:   q,
		history: hist,
		hub:     NewHub(log),
		log:     log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/queue", s.handleQueue)
	engine.GET("/agents", s.handleAgents)
	engine.GET("/budget", s.handleBudget)
	engine.GET("/history/:issueId", s.handleTaskHistory)
	engine.GET("/history", s.handleRecentHistory)
	engine.GET("/events", s.handleEvents)
	s.engine = engine

	return s
}

// SetManager completes construction for the NewServer(nil, ...) case.
func (s *Server) SetManager(manager Manager) { s.manager = manager }

// Handler returns the http.Handler to pass to an http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

// Hub exposes the event hub so the orchestrator can Publish onto it.
func (s *Server) Hub() *Hub { return s.hub }

// Run starts the hub's dispatch loop. Call in a goroutine; returns
// when ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	s.hub.Run(done)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleQueue(c *gin.Context) {
	entries := s.queue.Entries()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "size": len(entries)})
}

func (s *Server) handleAgents(c *gin.Context) {
	agents := s.manager.GetActiveAgents()
	list := make([]v1.ActiveAgent, 0, len(agents))
	for _, a := range agents {
		list = append(list, a)
	}
	c.JSON(http.StatusOK, gin.H{"agents": list, "count": len(list)})
}

func (s *Server) handleBudget(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"dailySpendUsd":  s.manager.GetDailySpend(),
		"dailyBudgetUsd": s.manager.GetDailyBudget(),
	})
}

func (s *Server) handleTaskHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, gin.H{"events": []history.Event{}})
		return
	}
	issueID := c.Param("issueId")
	events, err := s.history.ForTask(c.Request.Context(), issueID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleRecentHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusOK, gin.H{"events": []history.Event{}})
		return
	}
	events, err := s.history.Recent(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("failed to upgrade status events connection", zap.Error(err))
		return
	}

	cl := &client{id: uuid.New().String(), conn: conn, send: make(chan []byte, 64), log: s.log}
	s.hub.Register(cl)

	s.log.Debug("status events client connected", zap.String("clientId", cl.id))

	go cl.writePump()
	cl.readPump(s.hub)
}
