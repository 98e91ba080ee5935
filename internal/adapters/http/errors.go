package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Roulette/internal/adapters/api"
	"github.com/dkeye/Roulette/internal/adapters/realtime"
	"github.com/dkeye/Roulette/internal/app/call"
	"github.com/dkeye/Roulette/internal/app/matching"
	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func statusOf(err error) int {
	var ce *realtime.ConnectError
	switch {
	case errors.Is(err, domain.ErrInvalidGender),
		errors.Is(err, domain.ErrInvalidAgeRange),
		errors.Is(err, domain.ErrInvalidDistance):
		return http.StatusBadRequest
	case errors.Is(err, matching.ErrInvalidTransition),
		errors.Is(err, matching.ErrRequestDeclined),
		errors.Is(err, orch.ErrNoCall),
		errors.Is(err, call.ErrCallNotLive),
		errors.Is(err, call.ErrNotRenegotiating):
		return http.StatusConflict
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &ce):
		if ce.Kind == realtime.ConnectionTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("intent failed")
	} else {
		log.Debug().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("intent refused")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
