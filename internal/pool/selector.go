package pool

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash/v2"
)

var ErrUnknownSelector = errors.New("unknown selector")

// Selector picks the connection for a request. conns is never empty. key is
// the request's table and key, which strategies may ignore.
type Selector interface {
	Name() string
	Pick(conns []*Conn, key []byte) int
}

// ParseSelector maps a configuration name to a fresh Selector.
func ParseSelector(name string) (Selector, error) {
	switch name {
	case "random":
		return Random{}, nil
	case "round-robin":
		return &RoundRobin{}, nil
	case "least-loaded":
		return LeastLoaded{}, nil
	case "consistent":
		return &Consistent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSelector, name)
	}
}

// Random picks uniformly among all entries, broken ones included.
type Random struct{}

func (Random) Name() string { return "random" }

func (Random) Pick(conns []*Conn, _ []byte) int {
	return rand.IntN(len(conns))
}

type RoundRobin struct {
	next atomic.Uint64
}

func (*RoundRobin) Name() string { return "round-robin" }

func (s *RoundRobin) Pick(conns []*Conn, _ []byte) int {
	return int((s.next.Add(1) - 1) % uint64(len(conns)))
}

// LeastLoaded picks the entry with the fewest round trips in flight, starting
// the scan at a random offset so ties spread out.
type LeastLoaded struct{}

func (LeastLoaded) Name() string { return "least-loaded" }

func (LeastLoaded) Pick(conns []*Conn, _ []byte) int {
	start := rand.IntN(len(conns))
	best, bestLoad := start, conns[start].InFlight()
	for i := 1; i < len(conns); i++ {
		idx := (start + i) % len(conns)
		if load := conns[idx].InFlight(); load < bestLoad {
			best, bestLoad = idx, load
		}
	}
	return best
}

// Consistent sends every key to the same endpoint for as long as the pool
// lives, placing endpoints on a consistent-hash ring.
type Consistent struct {
	once  sync.Once
	ring  *consistent.Consistent
	index map[string]int
}

func (*Consistent) Name() string { return "consistent" }

type member string

func (m member) String() string { return string(m) }

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func (s *Consistent) build(conns []*Conn) {
	s.ring = consistent.New(nil, consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	})
	s.index = make(map[string]int, len(conns))
	for i, c := range conns {
		name := c.Endpoint().String()
		if _, seen := s.index[name]; seen {
			continue
		}
		s.index[name] = i
		s.ring.Add(member(name))
	}
}

func (s *Consistent) Pick(conns []*Conn, key []byte) int {
	s.once.Do(func() { s.build(conns) })

	m := s.ring.LocateKey(key)
	if m == nil {
		return 0
	}
	return s.index[m.String()]
}
