package server

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"kimitok/internal/pkg/kimitok/service"
	"kimitok/internal/pkg/kimitok/vocab"
)

// Server exposes the tokenizer over HTTP.
type Server struct {
	svc *service.Service
}

func New(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// Routes builds the HTTP handler: POST /api/tokenize and GET /api/health.
func (s *Server) Routes() *gin.Engine {
	r := gin.Default()
	r.POST("/api/tokenize", s.tokenize)
	r.GET("/api/health", s.health)
	return r
}

// Serve runs the HTTP server on ln until it fails.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: s.Routes()}
	return srv.Serve(ln)
}

func (s *Server) tokenize(c *gin.Context) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.svc.Tokenize(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c *gin.Context) {
	table := s.svc.Tokenizer().Table()
	c.JSON(http.StatusOK, gin.H{
		"repo_id":        s.svc.RepoID(),
		"revision":       s.svc.Revision(),
		"base_tokens":    table.BaseSize(),
		"special_tokens": vocab.NumReservedSpecial,
	})
}
