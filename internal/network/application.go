package network

import (
	"fmt"
	"sync"

	"github.com/clamentos/blackhole/internal/protocol"
	"github.com/clamentos/blackhole/pkg/metrics"
	"github.com/clamentos/blackhole/pkg/session"
)

// Application is what the network tasks serve: the resource codes, the
// servlet behind each one, the body deserializer and the session policy.
type Application struct {
	resources    *protocol.ResourceSet
	deserializer protocol.Deserializer
	metrics      metrics.ServerMetrics

	mu       sync.RWMutex
	servlets map[protocol.Resource]protocol.Servlet

	sessions        session.Store
	sessionRequired bool
}

// NewApplication creates an application without servlets. Nil arguments get
// the built-in resource set, the entry deserializer and no-op metrics.
func NewApplication(resources *protocol.ResourceSet, deserializer protocol.Deserializer, m metrics.ServerMetrics) *Application {
	if resources == nil {
		resources = protocol.NewResourceSet()
	}
	if deserializer == nil {
		deserializer = protocol.EntryDeserializer{}
	}
	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}

	return &Application{
		resources:    resources,
		deserializer: deserializer,
		metrics:      m,
		servlets:     make(map[protocol.Resource]protocol.Servlet),
	}
}

// Register maps a servlet to its resource, which must be in the resource
// set and not mapped yet.
func (a *Application) Register(s protocol.Servlet) error {
	res := s.Resource()
	if _, ok := a.resources.Lookup(byte(res)); !ok {
		return fmt.Errorf("servlet for unregistered resource %d", res)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.servlets[res]; ok {
		return fmt.Errorf("resource %s already has a servlet", a.resources.Name(res))
	}
	a.servlets[res] = s
	return nil
}

// Servlet returns the servlet mapped to res.
func (a *Application) Servlet(res protocol.Resource) (protocol.Servlet, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.servlets[res]
	return s, ok
}

// UseSessions sets the session store. When required is true every request
// other than LOGIN must carry a live session id.
func (a *Application) UseSessions(store session.Store, required bool) {
	if required && store == nil {
		panic("network: sessions required without a store")
	}
	a.sessions = store
	a.sessionRequired = required
}

func (a *Application) Resources() *protocol.ResourceSet {
	return a.resources
}

func (a *Application) Deserializer() protocol.Deserializer {
	return a.deserializer
}

func (a *Application) Metrics() metrics.ServerMetrics {
	return a.metrics
}
