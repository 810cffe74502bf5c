// Package discovery keeps the set of currently known remote endpoints fed by
// the engine's discovery stream.
package discovery

import (
	"sync"

	"github.com/rysete/packet/protocol"
	"github.com/sirupsen/logrus"
)

// Registry deduplicates the discovery feed by endpoint id. Re-announcements
// update the stored record in place, so consumers see one entry per device
// no matter how often it advertises.
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]protocol.EndpointInfo
	onChange  []func(protocol.EndpointInfo)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[string]protocol.EndpointInfo),
	}
}

// OnChange registers an observer for endpoint records. Observers run outside
// the registry lock and must be registered before the feed starts.
func (r *Registry) OnChange(fn func(protocol.EndpointInfo)) {
	r.onChange = append(r.onChange, fn)
}

// Upsert records a discovery feed entry and reports whether the endpoint was
// previously unknown.
func (r *Registry) Upsert(info protocol.EndpointInfo) bool {
	r.mu.Lock()
	_, known := r.endpoints[info.ID]
	r.endpoints[info.ID] = info
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "Upsert",
		"endpoint_id": info.ID,
		"name":        info.Name,
		"known":       known,
	}).Debug("Discovery record updated")

	for _, fn := range r.onChange {
		fn(info)
	}
	return !known
}

// Get returns the stored record for an endpoint id.
func (r *Registry) Get(id string) (protocol.EndpointInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.endpoints[id]
	return info, ok
}

// List returns a snapshot of every known endpoint.
func (r *Registry) List() []protocol.EndpointInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]protocol.EndpointInfo, 0, len(r.endpoints))
	for _, info := range r.endpoints {
		out = append(out, info)
	}
	return out
}

// MarkAllUnknown clears the presence flag on every record. Called when
// discovery restarts: devices stay listed but their liveness is unknown
// until they advertise again.
func (r *Registry) MarkAllUnknown() {
	r.mu.Lock()
	changed := make([]protocol.EndpointInfo, 0, len(r.endpoints))
	for id, info := range r.endpoints {
		if info.Present != nil {
			info.Present = nil
			r.endpoints[id] = info
			changed = append(changed, info)
		}
	}
	r.mu.Unlock()

	for _, info := range changed {
		for _, fn := range r.onChange {
			fn(info)
		}
	}
}

// Clear forgets every endpoint. Used when the engine restarts with a fresh
// discovery feed.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.endpoints = make(map[string]protocol.EndpointInfo)
	r.mu.Unlock()
}
