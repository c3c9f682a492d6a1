package process

import (
	"fmt"
	"net"
	"sync"
)

// portScanWidth bounds how far FindFreePort walks from its start port.
const portScanWidth = 1000

// FindFreePort returns a TCP port on host that can currently be bound. With
// start <= 0 the OS picks an ephemeral port; otherwise ports are probed
// upward from start.
func FindFreePort(host string, start int) (int, error) {
	if start <= 0 {
		return osPort(host)
	}
	return pickPortInRange(host, start, start+portScanWidth, nil)
}

func osPort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func pickPortInRange(host string, start, end int, skip func(int) bool) (int, error) {
	for p := start; p <= end && p <= 65535; p++ {
		if skip != nil && skip(p) {
			continue
		}
		l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

// PortAllocator hands out free ports and remembers which ones are owned, so
// two backends never receive the same port even before either binds it.
type PortAllocator struct {
	host  string
	start int
	end   int

	mu       sync.Mutex
	reserved map[int]struct{}
}

// NewPortAllocator creates an allocator. A zero start uses OS-assigned ports.
func NewPortAllocator(host string, start, end int) *PortAllocator {
	if host == "" {
		host = "127.0.0.1"
	}
	if start > 0 && end < start {
		end = start + portScanWidth
	}
	return &PortAllocator{host: host, start: start, end: end, reserved: make(map[int]struct{})}
}

// Host returns the interface ports are allocated on.
func (a *PortAllocator) Host() string { return a.host }

// Acquire reserves a free port until Release is called.
func (a *PortAllocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	taken := func(p int) bool { _, ok := a.reserved[p]; return ok }
	var (
		port int
		err  error
	)
	if a.start > 0 {
		port, err = pickPortInRange(a.host, a.start, a.end, taken)
	} else {
		// The OS rarely repeats an ephemeral port, but a released-then-reused
		// number must still not collide with a live reservation.
		for i := 0; i < 16; i++ {
			port, err = osPort(a.host)
			if err != nil || !taken(port) {
				break
			}
		}
		if err == nil && taken(port) {
			err = fmt.Errorf("no unreserved ephemeral port on %s", a.host)
		}
	}
	if err != nil {
		return 0, err
	}
	a.reserved[port] = struct{}{}
	return port, nil
}

// Release returns a port to the pool. Releasing an unknown port is a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	delete(a.reserved, port)
	a.mu.Unlock()
}

// Reserved reports how many ports are currently owned.
func (a *PortAllocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}
