package network

import (
	"net"
	"sync"
)

// admission counts live connections per client IP.
type admission struct {
	limit int

	mu     sync.Mutex
	counts map[string]int
}

func newAdmission(limit int) *admission {
	return &admission{limit: limit, counts: make(map[string]int)}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// admit reserves a slot for host, or reports false when it is full.
func (a *admission) admit(host string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.counts[host] >= a.limit {
		return false
	}
	a.counts[host]++
	return true
}

func (a *admission) release(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := a.counts[host]; n <= 1 {
		delete(a.counts, host)
	} else {
		a.counts[host] = n - 1
	}
}

func (a *admission) count(host string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[host]
}
