// Package server exposes the deliberation machine over HTTP for polling
// clients: submissions in, status and candidate statements out.
package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/concordlabs/caucus/internal/machine"
)

// Server wires the deliberation machine to a gin router.
type Server struct {
	machine *machine.Machine
	router  *gin.Engine
}

// Config holds the HTTP surface configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8020".
	Addr string
	// AllowedOrigins restricts CORS. Empty allows localhost only.
	AllowedOrigins []string
}

// New creates a Server over the given machine.
func New(m *machine.Machine, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(cfg.AllowedOrigins) > 0 {
				for _, allowed := range cfg.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			}
			// In development, allow any localhost/127.0.0.1 origin. The
			// host must match exactly: a prefix check would admit
			// lookalike domains such as localhost.example.com.
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			host := u.Hostname()
			return host == "localhost" || host == "127.0.0.1"
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	s := &Server{machine: m, router: router}

	router.GET("/", s.health)
	api := router.Group("/api")
	api.POST("/deliberations", s.createDeliberation)
	api.GET("/deliberations", s.listDeliberations)
	api.GET("/deliberations/:id/status", s.status)
	api.GET("/deliberations/:id/candidates", s.candidates)
	api.GET("/deliberations/:id/winner", s.winner)
	api.POST("/deliberations/:id/opinions", s.submitOpinion)
	api.POST("/deliberations/:id/rankings", s.submitRanking)
	api.POST("/deliberations/:id/critiques", s.submitCritique)
	api.POST("/deliberations/:id/feedback", s.submitFeedback)
	api.POST("/deliberations/:id/retry", s.retryCycle)

	return s
}

// Router returns the underlying gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts serving on the configured address and blocks.
func (s *Server) Run(addr string) error {
	log.Printf("[server] listening on %s", addr)
	return s.router.Run(addr)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "caucus",
	})
}

type createDeliberationRequest struct {
	Question       string `json:"question" binding:"required"`
	Capacity       int    `json:"capacity" binding:"required"`
	CritiqueRounds int    `json:"critique_rounds"`
}

func (s *Server) createDeliberation(c *gin.Context) {
	var req createDeliberationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.CritiqueRounds == 0 {
		req.CritiqueRounds = 1
	}

	d, err := s.machine.CreateDeliberation(req.Question, req.Capacity, req.CritiqueRounds)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) listDeliberations(c *gin.Context) {
	list, err := s.machine.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("list deliberations: %v", err)})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) status(c *gin.Context) {
	status, err := s.machine.Status(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) candidates(c *gin.Context) {
	statements, err := s.machine.Candidates(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statements)
}

func (s *Server) winner(c *gin.Context) {
	w, err := s.machine.Winner(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if w == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no round has been aggregated yet"})
		return
	}
	c.JSON(http.StatusOK, w)
}

type opinionRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Text          string `json:"text" binding:"required"`
}

func (s *Server) submitOpinion(c *gin.Context) {
	var req opinionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if err := s.machine.SubmitOpinion(c.Param("id"), req.ParticipantID, req.Text); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type rankingRequest struct {
	ParticipantID string   `json:"participant_id" binding:"required"`
	Round         int      `json:"round"`
	Ordered       []string `json:"ordered" binding:"required"`
}

func (s *Server) submitRanking(c *gin.Context) {
	var req rankingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if err := s.machine.SubmitRanking(c.Param("id"), req.ParticipantID, req.Round, req.Ordered); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type critiqueRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Round         int    `json:"round"`
	Text          string `json:"text" binding:"required"`
}

func (s *Server) submitCritique(c *gin.Context) {
	var req critiqueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if err := s.machine.SubmitCritique(c.Param("id"), req.ParticipantID, req.Round, req.Text); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type feedbackRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Agreement     int    `json:"agreement" binding:"required"`
	Text          string `json:"text"`
}

func (s *Server) submitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if err := s.machine.SubmitFeedback(c.Param("id"), req.ParticipantID, req.Agreement, req.Text); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) retryCycle(c *gin.Context) {
	if err := s.machine.RetryCycle(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"retrying": true})
}

// fail maps machine errors to HTTP status codes. Client-input errors come
// back 4xx; anything else is a 500.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, machine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, machine.ErrInvalidRanking), errors.Is(err, machine.ErrInvalidFeedback):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, machine.ErrWrongStage),
		errors.Is(err, machine.ErrWrongRound),
		errors.Is(err, machine.ErrDuplicateSubmission),
		errors.Is(err, machine.ErrNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("[server] internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
