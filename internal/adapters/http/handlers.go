package http

import (
	"encoding/json"
	"net/http"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const filterKey = "filter"

type handlers struct {
	ctl Controller
}

type flagRequest struct {
	On *bool `json:"on"`
}

type continueRequest struct {
	Continue *bool `json:"continue"`
}

type muteRequest struct {
	Kind  core.MediaKind `json:"kind"`
	Muted *bool          `json:"muted"`
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctl.View())
}

// savedFilter returns the filter of the last search in this session.
func savedFilter(c *gin.Context) domain.Filter {
	raw, ok := sessions.Default(c).Get(filterKey).(string)
	if !ok {
		return domain.DefaultFilter()
	}
	var f domain.Filter
	if err := json.Unmarshal([]byte(raw), &f); err != nil || f.Validate() != nil {
		return domain.DefaultFilter()
	}
	return f
}

func saveFilter(c *gin.Context, f domain.Filter) {
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	s := sessions.Default(c)
	s.Set(filterKey, string(raw))
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
}

func (h *handlers) filter(c *gin.Context) {
	c.JSON(http.StatusOK, savedFilter(c))
}

// bindFilter reads the request filter; an empty body reuses the saved one.
func bindFilter(c *gin.Context) (domain.Filter, bool) {
	f := savedFilter(c)
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&f); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
			return f, false
		}
	}
	if err := f.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return f, false
	}
	saveFilter(c, f)
	return f, true
}

func (h *handlers) search(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	if err := h.ctl.StartSearch(c.Request.Context(), f); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ctl.View())
}

func (h *handlers) schedule(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	if err := h.ctl.ScheduleSearch(f); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.ctl.View())
}

func (h *handlers) cancel(c *gin.Context) {
	h.intent(c, func() error { return h.ctl.CancelSearch(c.Request.Context()) })
}

func (h *handlers) accept(c *gin.Context) {
	h.intent(c, func() error { return h.ctl.Accept(c.Request.Context()) })
}

func (h *handlers) reject(c *gin.Context) {
	h.intent(c, func() error { return h.ctl.Reject(c.Request.Context()) })
}

func (h *handlers) hangUp(c *gin.Context) {
	h.intent(c, h.ctl.HangUp)
}

func (h *handlers) answer(c *gin.Context) {
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Continue == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing continue"})
		return
	}
	h.intent(c, func() error { return h.ctl.AnswerContinuation(*req.Continue) })
}

func (h *handlers) mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil ||
		(req.Kind != core.MediaAudio && req.Kind != core.MediaVideo) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid kind/muted"})
		return
	}
	h.intent(c, func() error { return h.ctl.SetMuted(req.Kind, *req.Muted) })
}

func (h *handlers) speaker(c *gin.Context) {
	on, ok := bindFlag(c)
	if !ok {
		return
	}
	h.intent(c, func() error { return h.ctl.SetSpeaker(on) })
}

func (h *handlers) camera(c *gin.Context) {
	on, ok := bindFlag(c)
	if !ok {
		return
	}
	h.intent(c, func() error { return h.ctl.SetCamera(c.Request.Context(), on) })
}

func bindFlag(c *gin.Context) (bool, bool) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.On == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing on"})
		return false, false
	}
	return *req.On, true
}

func (h *handlers) intent(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.ctl.View())
}

func (h *handlers) summary(c *gin.Context) {
	s, ok := h.ctl.LastSummary()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no finished call"})
		return
	}
	c.JSON(http.StatusOK, s)
}
