package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vercel/ai-chatbot-sub000/runtime"
	"github.com/vercel/ai-chatbot-sub000/sse"
	"github.com/vercel/ai-chatbot-sub000/types"
	"github.com/vercel/ai-chatbot-sub000/upstream"
)

// streamRequest is the body of POST /chats/:chatId/stream.
type streamRequest struct {
	Messages    []types.ChatMessage `json:"messages"`
	Model       string              `json:"model,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
}

func (r *streamRequest) validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != types.RoleUser {
		return errors.New("last message must be a user message")
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return errors.New("temperature must be within [0, 2]")
	}
	return nil
}

func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("chatId")

	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := sse.NewWriter(ctx, c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	user := req.Messages[len(req.Messages)-1]
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.config.Now()
	}
	req.Messages[len(req.Messages)-1] = user

	stored, err := types.StoredFromChat(chatID, user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.config.Archive.SaveMessages(ctx, []types.StoredMessage{stored}); err != nil {
		s.logger.Error("failed to save user message", map[string]any{"chat_id": chatID, "error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save message"})
		return
	}

	streamID, err := s.config.Archive.CreateStreamID(ctx, chatID)
	if err != nil {
		s.logger.Error("failed to create stream id", map[string]any{"chat_id": chatID, "error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create stream"})
		return
	}

	sess, err := s.config.Controller.Open(chatID, streamID)
	if err != nil {
		if errors.Is(err, runtime.ErrRegistryFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many active streams"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	sse.SetHeaders(c.Writer.Header())
	c.Header(StreamIDHeader, streamID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	stop := s.keepAlive(w)
	out := s.config.Controller.Run(ctx, w, sess, upstream.Turn{
		Messages:    req.Messages,
		Model:       req.Model,
		Temperature: req.Temperature,
	})
	stop()

	s.logger.WithStream(chatID, streamID).Info("stream ended", map[string]any{
		"status":        string(out.Status),
		"frames":        out.Frames,
		"finish_reason": string(out.FinishReason),
	})
}

// keepAlive pings w until the returned stop func is called.
func (s *Server) keepAlive(w *sse.Writer) (stop func()) {
	if s.config.KeepAlive <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(s.config.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-w.Done():
				return
			case <-ticker.C:
				if w.WriteKeepAlive() != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}
