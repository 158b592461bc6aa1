package ifworker

import "net"

// Registry is the ordered list of interface workers the
// daemon owns. It is built once at startup; after that it is immutable
// and may be shared across goroutines without locking.
type Registry struct {
	workers []*Worker
}

// NewRegistry builds a registry from an ordered slice of workers.
func NewRegistry(workers []*Worker) *Registry {
	return &Registry{workers: workers}
}

// WorkerForIP returns the first worker whose interface subnet contains ip
// (netmask & ip == netmask & worker.ip), or nil if none matches. This is
// first-match, not longest-prefix — see Iface.matchesSubnet.
func (r *Registry) WorkerForIP(ip net.IP) *Worker {
	for _, w := range r.workers {
		if w.Iface.matchesSubnet(ip) {
			return w
		}
	}
	return nil
}

// WorkerByName returns the worker with an exact interface name match, or
// nil if none matches.
func (r *Registry) WorkerByName(name string) *Worker {
	for _, w := range r.workers {
		if w.Iface.Name == name {
			return w
		}
	}
	return nil
}

// All returns the registry's workers in registration order.
func (r *Registry) All() []*Worker {
	return r.workers
}
