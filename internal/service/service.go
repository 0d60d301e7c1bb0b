// Package service implements the batch run state machine and the control
// operations exposed through the transport layer.
package service

import (
	"sync"

	"github.com/upbatch/orchestrator/internal/config"
	"github.com/upbatch/orchestrator/internal/domain"
	"github.com/upbatch/orchestrator/internal/platform"
	"github.com/upbatch/orchestrator/internal/store"
	"github.com/upbatch/orchestrator/policy"
)

// EventSink receives run progress events for the UI feed.
type EventSink interface {
	Publish(event domain.FeedEvent)
}

// Service coordinates batch runs. The run lock guards the single process-wide
// BatchRun; the journal is serialized by the store and stays responsive while
// a run is in flight.
type Service struct {
	store    store.Store
	platform platform.Platform
	feed     EventSink
	policy   *policy.Engine
	config   *config.Config

	mu  sync.Mutex
	run *domain.BatchRun
}

// New creates a new service. feed and policyEngine may be nil.
func New(st store.Store, pf platform.Platform, feed EventSink, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:    st,
		platform: pf,
		feed:     feed,
		policy:   policyEngine,
		config:   cfg,
	}
}

func (s *Service) publish(event domain.FeedEvent) {
	if s.feed != nil {
		s.feed.Publish(event)
	}
}
