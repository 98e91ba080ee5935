package orch

import (
	"context"

	"github.com/dkeye/Roulette/internal/domain"
)

// StartSearch drops the summary of a finished call and enters the pool.
func (o *Orchestrator) StartSearch(ctx context.Context, filter domain.Filter) error {
	o.dismissEnded()
	return o.Matching.StartSearch(ctx, filter)
}

func (o *Orchestrator) ScheduleSearch(filter domain.Filter) error {
	o.dismissEnded()
	return o.Matching.ScheduleSearch(filter)
}

func (o *Orchestrator) CancelSearch(ctx context.Context) error {
	return o.Matching.CancelSearch(ctx)
}

func (o *Orchestrator) Accept(ctx context.Context) error {
	return o.Matching.Accept(ctx)
}

func (o *Orchestrator) Reject(ctx context.Context) error {
	return o.Matching.Reject(ctx)
}

func (o *Orchestrator) dismissEnded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && !o.current.Snapshot().Phase.Live() {
		o.current = nil
	}
}
