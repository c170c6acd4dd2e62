package simulation

import (
	"math/rand/v2"

	"github.com/nvandessel/cellsim/internal/naming"
)

// ID identifies an agent. IDs are allocated in increasing order and never reused.
type ID int64

// NoParent is the parent ID of root agents.
const NoParent ID = 0

// Handle is a sink's key for a node it created. It carries no ownership;
// the simulator only hands it back to the same sink.
type Handle int64

// NoHandle marks an agent that has not been pushed to a sink yet.
const NoHandle Handle = 0

type decision int

const (
	decideNothing decision = iota
	decideDie
	decideDivide
)

func (d decision) String() string {
	switch d {
	case decideDie:
		return "die"
	case decideDivide:
		return "divide"
	default:
		return "none"
	}
}

type stepOutcome struct {
	decision  decision
	stepped   bool
	attempts  int
	neighbors int
}

// Agent is one simulated cell.
//
// current is only overwritten by progressFinish during commit, so neighbour
// queries made while a step is being computed always see the previous
// timepoint.
type Agent struct {
	cfg *Config

	id        ID
	parentID  ID
	baseLabel string

	birthTime         int
	divisionThreshold int
	deathDeadline     int
	time              int

	current Vec3
	staged  Vec3
	radius  float64

	lastDisplacement Vec3
	moved            bool
	status           naming.Status

	handle Handle
	rng    *rand.Rand
	track  []TrackRow
}

// ID returns the agent's identifier.
func (a *Agent) ID() ID { return a.id }

// ParentID returns the mother's ID, or NoParent.
func (a *Agent) ParentID() ID { return a.parentID }

// BaseLabel returns the lineage-encoded label assigned at birth.
func (a *Agent) BaseLabel() string { return a.baseLabel }

// Label returns the display label under the configured naming policy.
func (a *Agent) Label() string { return a.cfg.NamingPolicy.Label(a.baseLabel, a.status) }

// Status returns the outcome of the agent's last step.
func (a *Agent) Status() naming.Status { return a.status }

// Position returns the committed position.
func (a *Agent) Position() Vec3 { return a.current }

// StagedPosition returns the position computed by the last step.
func (a *Agent) StagedPosition() Vec3 { return a.staged }

// Radius returns the agent's radius.
func (a *Agent) Radius() float64 { return a.radius }

// BirthTime returns the timepoint the agent was born at.
func (a *Agent) BirthTime() int { return a.birthTime }

// DivisionThreshold returns the timepoint after which the agent wants to divide.
func (a *Agent) DivisionThreshold() int { return a.divisionThreshold }

// DeathDeadline returns the timepoint after which the agent dies.
func (a *Agent) DeathDeadline() int { return a.deathDeadline }

// Time returns the agent's local clock.
func (a *Agent) Time() int { return a.time }

// Handle returns the sink handle of the agent's most recent node.
func (a *Agent) Handle() Handle { return a.handle }

// progress brings the agent to timepoint till. An agent that is already
// there (a daughter born one tick ahead) holds its position.
func (a *Agent) progress(till int, neighbors func() []Vec3) stepOutcome {
	if a.time >= till {
		a.staged = a.current
		return stepOutcome{}
	}
	return a.progressOneStep(neighbors())
}

// progressOneStep computes one timepoint against neighbour positions taken
// from the last committed registry. It writes only staged fields.
func (a *Agent) progressOneStep(neighbors []Vec3) stepOutcome {
	cfg := a.cfg
	from := a.current
	minDist2 := cfg.MinDistanceToNeighbor * cfg.MinDistanceToNeighbor
	sigma := cfg.UsualStepSize / cfg.dimCompensation()

	var disp, candidate Vec3
	accepted := false
	attempts := 0
	for k := 1; k <= cfg.MaxMoveAttempts; k++ {
		attempts = k
		if k%2 == 1 {
			disp = Vec3{
				X: a.rng.NormFloat64() * sigma,
				Y: a.rng.NormFloat64() * sigma,
				Z: a.rng.NormFloat64() * sigma,
			}
			if cfg.Do2DOnly {
				disp.Z = 0
			}
		} else {
			disp = disp.Scale(0.5)
		}
		candidate = from.Add(disp)
		if !collides(candidate, neighbors, minDist2) {
			accepted = true
			break
		}
	}

	if accepted {
		a.staged = candidate
		a.lastDisplacement = disp
		a.status = naming.StatusNormal
	} else {
		a.staged = from
		a.status = naming.StatusBlocked
	}
	a.moved = accepted
	a.time++

	out := stepOutcome{stepped: true, attempts: attempts, neighbors: len(neighbors)}
	switch {
	case a.time > a.deathDeadline:
		out.decision = decideDie
	case a.time > a.divisionThreshold:
		if len(neighbors) <= cfg.MaxDensityForDivision && accepted {
			out.decision = decideDivide
		} else if accepted {
			a.status = naming.StatusWantsDivide
		} else {
			a.status = naming.StatusBlockedWantsDivide
		}
	}
	return out
}

// collides reports whether p is closer than the minimum distance to any neighbour.
func collides(p Vec3, neighbors []Vec3, minDist2 float64) bool {
	for _, n := range neighbors {
		if p.Dist2(n) < minDist2 {
			return true
		}
	}
	return false
}

// progressFinish commits the staged position.
func (a *Agent) progressFinish() {
	a.current = a.staged
	if a.cfg.CollectTracks {
		a.recordTrack()
	}
}

// progressRetire closes the step of an agent that dies or divides. Its
// position stays where it was; only the track row is kept.
func (a *Agent) progressRetire() {
	if a.cfg.CollectTracks {
		a.recordTrack()
	}
}

func (a *Agent) recordTrack() {
	a.track = append(a.track, TrackRow{
		Time:     a.time,
		Position: a.current,
		ID:       a.id,
		ParentID: a.parentID,
		Label:    a.Label(),
	})
}

// node describes the agent for a sink at timepoint t.
func (a *Agent) node(t int) Node {
	return Node{
		Time:     t,
		Position: a.current,
		Radius:   a.radius,
		Label:    a.Label(),
	}
}
