package simulation

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// Population is the authoritative agent registry plus the staging lists
// that collect births and deaths until the next commit.
type Population struct {
	registry map[ID]*Agent
	clock    int
	lastID   atomic.Int64

	mu            sync.Mutex // guards the staging lists
	pendingBirths []*Agent
	pendingDeaths []ID
}

func newPopulation() *Population {
	return &Population{registry: make(map[ID]*Agent)}
}

// AllocateID returns a fresh ID. Safe for concurrent use.
func (p *Population) AllocateID() ID {
	return ID(p.lastID.Add(1))
}

// StageBirth queues a for registration at the next commit.
func (p *Population) StageBirth(a *Agent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.registry[a.id]; exists {
		return &InvariantError{Op: "stage birth", ID: a.id, Detail: "already registered"}
	}
	p.pendingBirths = append(p.pendingBirths, a)
	return nil
}

// StageDeath queues id for removal at the next commit.
func (p *Population) StageDeath(id ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.registry[id]; !exists {
		return &InvariantError{Op: "stage death", ID: id, Detail: "not registered"}
	}
	p.pendingDeaths = append(p.pendingDeaths, id)
	return nil
}

// NeighborsWithin returns the committed positions of all other agents whose
// distance to a is below radius on every axis. This is a box test, so
// returned neighbours may be up to radius*sqrt(3) away.
func (p *Population) NeighborsWithin(a *Agent, radius float64) []Vec3 {
	var out []Vec3
	for id, other := range p.registry {
		if id == a.id {
			continue
		}
		if a.current.withinBox(other.current, radius) {
			out = append(out, other.current)
		}
	}
	return out
}

// Get returns the registered agent with id.
func (p *Population) Get(id ID) (*Agent, bool) {
	a, ok := p.registry[id]
	return a, ok
}

// Len returns the number of registered agents.
func (p *Population) Len() int {
	return len(p.registry)
}

// Clock returns the last committed timepoint.
func (p *Population) Clock() int {
	return p.clock
}

// sorted returns the registered agents in ascending ID order.
func (p *Population) sorted() []*Agent {
	out := make([]*Agent, 0, len(p.registry))
	for _, a := range p.registry {
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y *Agent) int { return cmp.Compare(x.id, y.id) })
	return out
}

func (p *Population) resetStaging() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingBirths = p.pendingBirths[:0]
	p.pendingDeaths = p.pendingDeaths[:0]
}

// commit applies staged deaths, then staged births, and returns the retired agents.
func (p *Population) commit() (born []*Agent, retired []*Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.pendingDeaths {
		if a, ok := p.registry[id]; ok {
			retired = append(retired, a)
			delete(p.registry, id)
		}
	}
	for _, a := range p.pendingBirths {
		p.registry[a.id] = a
	}
	born = slices.Clone(p.pendingBirths)
	p.pendingBirths = p.pendingBirths[:0]
	p.pendingDeaths = p.pendingDeaths[:0]
	return born, retired
}
