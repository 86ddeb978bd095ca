// Package mockserver is a stand-in for the sidekick completion service, used
// for local development and by transport tests. It serves the JSON chat
// endpoint and the chunked streaming endpoint.
package mockserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/transport"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Responder produces the answer for a request. It is called once per request
// and its output is split into word chunks for the streaming endpoint.
type Responder func(req *request.Request) (string, error)

// EchoResponder answers with the prompt, prefixed by the system prompt's
// first line when one is set.
func EchoResponder(req *request.Request) (string, error) {
	if req.SystemPrompt == "" {
		return req.Prompt, nil
	}
	first := strings.SplitN(req.SystemPrompt, "\n", 2)[0]
	return "[" + first + "] " + req.Prompt, nil
}

// Failure makes the server answer every request with an error status.
type Failure struct {
	StatusCode int
	Message    string
	// AfterChunks, when positive, lets a stream deliver that many chunks
	// before the connection is cut.
	AfterChunks int
}

type Server struct {
	engine *gin.Engine

	mu             sync.Mutex
	responder      Responder
	apiKey         string
	refreshedToken string
	chunkDelay     time.Duration
	failure        *Failure
	requests       []request.Request
}

type Option func(*Server)

func WithResponder(r Responder) Option {
	return func(s *Server) {
		s.responder = r
	}
}

// WithAPIKey requires requests to carry this bearer token.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithRefreshedToken makes every response hand back this token.
func WithRefreshedToken(token string) Option {
	return func(s *Server) {
		s.refreshedToken = token
	}
}

func WithChunkDelay(d time.Duration) Option {
	return func(s *Server) {
		s.chunkDelay = d
	}
}

func WithFailure(f *Failure) Option {
	return func(s *Server) {
		s.failure = f
	}
}

func New(options ...Option) *Server {
	s := &Server{
		responder: EchoResponder,
	}
	for _, o := range options {
		o(s)
	}

	engine := gin.New()
	engine.Use(s.logRequests())
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	authorized := engine.Group("/", s.authenticate())
	authorized.POST(transport.ChatPath, gin.Recovery(), s.handleChat)
	// no recovery here: an injected failure aborts the connection mid-body
	authorized.POST(transport.ChatStreamedPath, s.handleChatStreamed)
	s.engine = engine

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetFailure switches failure injection on (or off with nil) at runtime.
func (s *Server) SetFailure(f *Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = f
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []request.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]request.Request, len(s.requests))
	copy(ret, s.requests)
	return ret
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("mock completion service listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("mock service request")
	}
}

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.Next()
	}
}

// prepare binds the request and runs the responder. It writes the error
// response itself and returns false when the handler should stop.
func (s *Server) prepare(c *gin.Context) (string, *Failure, bool) {
	var req request.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return "", nil, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty prompt"})
		return "", nil, false
	}
	if req.ModelSettings == nil || req.ModelSettings.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing model settings"})
		return "", nil, false
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	failure := s.failure
	responder := s.responder
	s.mu.Unlock()

	if failure != nil && failure.AfterChunks <= 0 {
		c.JSON(failure.StatusCode, gin.H{"error": failure.Message})
		return "", nil, false
	}

	text, err := responder(&req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", nil, false
	}
	return text, failure, true
}

func (s *Server) handleChat(c *gin.Context) {
	text, _, ok := s.prepare(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, transport.ChatResponse{
		Role:        conversation.RoleAssistant,
		Content:     text,
		AccessToken: s.refreshedToken,
	})
}

func (s *Server) handleChatStreamed(c *gin.Context) {
	text, failure, ok := s.prepare(c)
	if !ok {
		return
	}

	if s.refreshedToken != "" {
		c.Header(transport.RefreshedTokenHeader, s.refreshedToken)
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	chunks := transport.SplitWords(text)
	ctx := c.Request.Context()
	for i, chunk := range chunks {
		if failure != nil && i >= failure.AfterChunks {
			// cut the connection mid-stream
			panic(http.ErrAbortHandler)
		}
		if s.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.chunkDelay):
			}
		}
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return
		}
		c.Writer.Flush()
	}
}
