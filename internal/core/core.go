// Package core wires the collaborators every orchestration needs into a
// single explicit context, replacing the process-wide singletons and
// factory-with-fallback pattern the source relies on (spec §9's
// "ambient mutable state → explicit config" redesign note).
package core

import (
	"time"

	"github.com/dddepg/subtrans/internal/cache"
	"github.com/dddepg/subtrans/internal/historyrepo"
	"github.com/dddepg/subtrans/internal/orchestrator"
	"github.com/dddepg/subtrans/internal/provider"
)

// Context bundles the collaborators constructed once at process start and
// threaded through every orchestration. No package-level mutable state
// exists anywhere in this module; everything an operation needs flows
// through Context or its caller's Request value.
type Context struct {
	Cache        *cache.Cache
	Providers    *provider.Registry
	Brokers      map[string]*provider.Broker
	History      *historyrepo.Repository
	Clock        func() time.Time
	Orchestrator *orchestrator.Orchestrator
}

// New builds a Context and its Orchestrator from already-constructed
// collaborators.
func New(c *cache.Cache, providers *provider.Registry, brokers map[string]*provider.Broker, history *historyrepo.Repository, clock func() time.Time) *Context {
	if clock == nil {
		clock = time.Now
	}
	ctx := &Context{
		Cache:     c,
		Providers: providers,
		Brokers:   brokers,
		History:   history,
		Clock:     clock,
	}
	ctx.Orchestrator = orchestrator.New(c, providers, brokers, history, clock)
	return ctx
}
