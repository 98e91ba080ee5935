package app

import (
	"github.com/dkeye/Roulette/internal/core"
)

type FailureAction int

const (
	// Degrade keeps the session going without the failed track.
	Degrade FailureAction = iota
	// Abort ends the call with reason error.
	Abort
)

func (a FailureAction) String() string {
	if a == Abort {
		return "abort"
	}
	return "degrade"
}

// Policy decides how a failed publish affects the call. published holds the
// kinds that are live after the failure.
type Policy interface {
	OnPublishFailure(kind core.MediaKind, err error, published []core.MediaKind) FailureAction
}

// SimplePolicy degrades while at least one local track is live.
type SimplePolicy struct{}

func (SimplePolicy) OnPublishFailure(kind core.MediaKind, err error, published []core.MediaKind) FailureAction {
	if len(published) == 0 {
		return Abort
	}
	return Degrade
}
