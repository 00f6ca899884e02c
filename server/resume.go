package server

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/vercel/ai-chatbot-sub000/sse"
	"github.com/vercel/ai-chatbot-sub000/types"
)

func (s *Server) handleResume(c *gin.Context) {
	chatID := c.Param("chatId")
	streamID := c.Param("streamId")

	ids, err := s.config.Archive.StreamIDs(c.Request.Context(), chatID)
	if err != nil {
		s.logger.Warn("stream lookup failed", map[string]any{"chat_id": chatID, "error": err.Error()})
		s.noContent(c)
		return
	}
	if !slices.Contains(ids, streamID) {
		s.noContent(c)
		return
	}
	s.resume(c, chatID, streamID)
}

func (s *Server) handleResumeLatest(c *gin.Context) {
	chatID := c.Param("chatId")

	ids, err := s.config.Archive.StreamIDs(c.Request.Context(), chatID)
	if err != nil {
		s.logger.Warn("stream lookup failed", map[string]any{"chat_id": chatID, "error": err.Error()})
		s.noContent(c)
		return
	}
	if len(ids) == 0 {
		s.noContent(c)
		return
	}
	s.resume(c, chatID, ids[len(ids)-1])
}

// resume answers with the full replay of a complete stream, an empty
// stream when the turn was just persisted, or 204.
func (s *Server) resume(c *gin.Context, chatID, streamID string) {
	ctx := c.Request.Context()
	store := s.config.Store
	if !store.Enabled() {
		s.noContent(c)
		return
	}

	if store.IsComplete(ctx, streamID) {
		frames := s.readAll(c, streamID)
		if frames == nil {
			s.noContent(c)
			return
		}
		s.collector.IncResumeReplayed()
		s.writeStream(c, frames)
		return
	}

	msg, ok, err := s.config.Archive.LatestMessage(ctx, chatID)
	if err != nil {
		s.logger.Warn("latest message lookup failed", map[string]any{"chat_id": chatID, "error": err.Error()})
	}
	if ok && msg.Role == types.RoleAssistant && s.config.Now().Sub(msg.CreatedAt) <= s.config.RecentWindow {
		s.collector.IncResumeEmpty()
		s.writeStream(c, nil)
		return
	}
	s.noContent(c)
}

// readAll collapses concurrent replays of one stream into one store read.
func (s *Server) readAll(c *gin.Context, streamID string) [][]byte {
	v, _, _ := s.replays.Do(streamID, func() (any, error) {
		return s.config.Store.ReadAll(c.Request.Context(), streamID), nil
	})
	frames, _ := v.([][]byte)
	return frames
}

func (s *Server) writeStream(c *gin.Context, frames [][]byte) {
	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	for _, f := range frames {
		if _, err := c.Writer.Write(f); err != nil {
			return
		}
	}
	c.Writer.Flush()
}

func (s *Server) noContent(c *gin.Context) {
	s.collector.IncResumeNoContent()
	c.Status(http.StatusNoContent)
}
