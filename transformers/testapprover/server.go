// Package testapprover is a minimal HTTP approval service for driving a
// "prompt" guard decision end to end in tests, the counterpart to
// interp.HTTPApprover's client side (§4.9).
package testapprover

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Server answers approval requests according to a fixed policy: approve
// unless the guard name is present in Denied.
type Server struct {
	mu      sync.RWMutex
	Denied  map[string]bool
	engine  *gin.Engine
	decided []decision
}

type decision struct {
	GuardName string
	Scope     map[string]any
	Approved  bool
}

type approvalRequest struct {
	GuardName string         `json:"guardName"`
	Scope     map[string]any `json:"scope"`
}

type approvalResponse struct {
	Approved bool `json:"approved"`
}

// New returns a Server with every guard approved unless listed in denied.
func New(denied ...string) *Server {
	s := &Server{Denied: make(map[string]bool)}
	for _, d := range denied {
		s.Denied[d] = true
	}

	gin.SetMode(gin.TestMode)
	s.engine = gin.New()
	s.engine.POST("/approve", s.handleApprove)
	return s
}

// Handler returns the gin engine as an http.Handler for use with
// httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Decisions returns every approval request this server has answered, in
// call order, for test assertions.
func (s *Server) Decisions() []decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]decision, len(s.decided))
	copy(out, s.decided)
	return out
}

func (s *Server) handleApprove(c *gin.Context) {
	var req approvalRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	s.mu.Lock()
	approved := !s.Denied[req.GuardName]
	s.decided = append(s.decided, decision{GuardName: req.GuardName, Scope: req.Scope, Approved: approved})
	s.mu.Unlock()

	c.JSON(http.StatusOK, approvalResponse{Approved: approved})
}
