package storage

import "fmt"

// Backend identifies one of the interchangeable storage backends. A key is
// scoped to its backend: the same key in two backends names two entries.
type Backend uint8

const (
	// Volatile is process-scoped and lost on exit.
	Volatile Backend = iota + 1
	// Persistent is synchronous and survives restarts.
	Persistent
	// Durable is transactional, larger, and opened lazily on first use.
	Durable
)

// Backends lists every known backend in declaration order.
var Backends = []Backend{Volatile, Persistent, Durable}

func (b Backend) String() string {
	switch b {
	case Volatile:
		return "volatile"
	case Persistent:
		return "persistent"
	case Durable:
		return "durable"
	default:
		return fmt.Sprintf("backend(%d)", uint8(b))
	}
}

// ParseBackend returns the Backend named by s.
func ParseBackend(s string) (Backend, error) {
	for _, b := range Backends {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown storage backend %q", s)
}
