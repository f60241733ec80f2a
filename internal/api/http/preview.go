package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
)

// PreviewRequest is the body of POST /preview
type PreviewRequest struct {
	Source string `json:"source"`
}

// GenerateRequest is the body of POST /generate
type GenerateRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

// Preview renders source once in a throwaway session
func (h *Handlers) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid preview request: "+err.Error())
		return
	}
	h.oneShot(c, req.Source)
}

// Upload renders an uploaded source file once. The file must be text that
// decodes as UTF-8.
func (h *Handlers) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "Missing multipart field \"file\"")
		return
	}
	if header.Size > int64(h.limits.MaxSourceBytes) {
		h.fail(c, errSourceTooLarge)
		return
	}

	f, err := header.Open()
	if err != nil {
		h.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(h.limits.MaxSourceBytes)+1))
	if err != nil {
		h.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(data) > h.limits.MaxSourceBytes {
		h.fail(c, errSourceTooLarge)
		return
	}
	if err := checkText(data); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Debug("Rendering upload", zap.String("filename", header.Filename), zap.Int("bytes", len(data)))
	h.oneShot(c, string(data))
}

// checkText accepts data that sniffs as text and is valid UTF-8
func checkText(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	mtype := mimetype.Detect(data)
	text := false
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			text = true
			break
		}
	}
	if !text {
		return fmt.Errorf("%w: detected %s", errUnsupportedUpload, mtype.String())
	}

	if !utf8.Valid(data) {
		detector := chardet.NewTextDetector()
		if best, err := detector.DetectBest(data); err == nil {
			return fmt.Errorf("%w: detected charset %s", errUnsupportedUpload, best.Charset)
		}
		return errUnsupportedUpload
	}
	return nil
}

func (h *Handlers) oneShot(c *gin.Context, source string) {
	if len(source) > h.limits.MaxSourceBytes {
		h.fail(c, errSourceTooLarge)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.limits.RenderTimeout)
	defer cancel()

	res, err := h.controller.Preview(ctx, source)
	if err != nil {
		h.fail(c, err)
		return
	}
	res.HTML = h.sanitizer.Sanitize(res.HTML)
	c.JSON(http.StatusOK, res)
}

// Generate asks the generation service for source and, when a session is
// named, sends it there
func (h *Handlers) Generate(c *gin.Context) {
	if h.generator == nil {
		h.fail(c, errNoGenerator)
		return
	}

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid generate request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(c, "prompt must not be empty")
		return
	}

	var session *preview.Session
	if req.SessionID != "" {
		s, ok := h.controller.Get(id.SessionID(req.SessionID))
		if !ok {
			h.fail(c, errSessionNotFound)
			return
		}
		session = s
	}

	source, err := h.generator.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{"source": source}
	if session != nil {
		if len(source) > h.limits.MaxSourceBytes {
			h.fail(c, errSourceTooLarge)
			return
		}
		seq, err := session.Send(source)
		if err != nil {
			h.fail(c, fmt.Errorf("send generated source: %w", err))
			return
		}
		resp["session_id"] = session.ID()
		resp["sequence"] = seq
	}
	c.JSON(http.StatusOK, resp)
}
