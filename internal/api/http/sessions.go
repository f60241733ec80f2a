package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
)

// RenderRequest is the body of POST /sessions/:id/render
type RenderRequest struct {
	Source string `json:"source"`
	Wait   bool   `json:"wait"`
}

// RenderResponse answers a render that waited for its outcome
type RenderResponse struct {
	SessionID id.SessionID `json:"session_id"`
	preview.Result
}

// CreateSession launches a new preview session
func (h *Handlers) CreateSession(c *gin.Context) {
	session, err := h.controller.Create(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, session.Info())
}

// ListSessions lists live sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.controller.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession describes one session
func (h *Handlers) GetSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session.Info())
}

// DeleteSession destroys a session
func (h *Handlers) DeleteSession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if !h.controller.Destroy(sid) {
		h.fail(c, errSessionNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sid})
}

// RenderSession sends source to a session. Without wait it answers 202 with
// the allocated sequence; with wait it answers the outcome and markup.
func (h *Handlers) RenderSession(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid render request: "+err.Error())
		return
	}
	if len(req.Source) > h.limits.MaxSourceBytes {
		h.fail(c, errSourceTooLarge)
		return
	}

	if !req.Wait {
		seq, err := session.Send(req.Source)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"session_id": session.ID(), "sequence": seq})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.limits.RenderTimeout)
	defer cancel()

	res, err := session.RenderFrame(ctx, req.Source)
	if err != nil {
		h.fail(c, err)
		return
	}
	res.HTML = h.sanitizer.Sanitize(res.HTML)
	c.JSON(http.StatusOK, RenderResponse{SessionID: session.ID(), Result: res})
}

// GetFrame serves the sanitized markup of the latest successful render
func (h *Handlers) GetFrame(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	frame, ok := session.Frame()
	if !ok {
		h.fail(c, errNoFrame)
		return
	}
	c.Header("X-Preview-Sequence", strconv.FormatInt(frame.Sequence, 10))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.sanitizer.Sanitize(frame.HTML)))
}

func (h *Handlers) session(c *gin.Context) (*preview.Session, bool) {
	session, ok := h.controller.Get(id.SessionID(c.Param("id")))
	if !ok {
		h.fail(c, errSessionNotFound)
		return nil, false
	}
	return session, true
}
