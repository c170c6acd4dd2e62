package simulation

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/nvandessel/cellsim/internal/naming"
)

// Config holds the parameters of one simulation. It is passed by value and
// never modified after New.
type Config struct {
	// UsualStepSize is the target displacement length per timepoint.
	UsualStepSize float64 `validate:"gte=0"`
	// MinDistanceToNeighbor is the hard collision-avoidance distance between centres.
	MinDistanceToNeighbor float64 `validate:"gt=0"`
	// LookAroundDistance is the half-size of the box scanned for neighbours.
	// It must cover MinDistanceToNeighbor or close neighbours go unseen.
	LookAroundDistance float64 `validate:"gt=0,gtefield=MinDistanceToNeighbor"`
	// MaxMoveAttempts bounds the candidate positions tried before an agent is blocked.
	MaxMoveAttempts int `validate:"gt=0"`
	// Do2DOnly keeps movement and division in the z = const plane.
	Do2DOnly bool

	// MeanLifespanBeforeDivision is the mean number of timepoints before division.
	MeanLifespanBeforeDivision float64 `validate:"gt=0"`
	// LifespanStdDevFactor is the division-time spread relative to the mean.
	LifespanStdDevFactor float64 `validate:"gte=0"`
	// MaxLifespan is the number of timepoints after which an agent dies.
	MaxLifespan int `validate:"gt=0"`
	// MaxDensityForDivision is the largest neighbour count that still allows division.
	MaxDensityForDivision int `validate:"gte=0"`
	// MaxPerpendicularVariability is the angular spread (radians) of the division axis.
	MaxPerpendicularVariability float64 `validate:"gte=0"`
	// DaughtersInitialDistance is the distance between two freshly born daughters.
	DaughtersInitialDistance float64 `validate:"gt=0"`
	// InitialRadius is the radius reported for every agent.
	InitialRadius float64 `validate:"gt=0"`

	// NamingPolicy derives display labels.
	NamingPolicy naming.Policy `validate:"naming_policy"`
	// Verbose logs every agent decision at debug level.
	Verbose bool
	// CollectTracks keeps per-agent rows for the track report.
	CollectTracks bool

	// Seed fixes the random sources; 0 picks a random seed.
	Seed uint64
	// Workers is the number of goroutines used for the compute phase; 0 or 1 is sequential.
	Workers int `validate:"gte=0"`
}

// DefaultConfig returns the parameters used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		UsualStepSize:               1.0,
		MinDistanceToNeighbor:       3.0,
		LookAroundDistance:          5.0,
		MaxMoveAttempts:             6,
		MeanLifespanBeforeDivision:  10,
		LifespanStdDevFactor:        0.2,
		MaxLifespan:                 50,
		MaxDensityForDivision:       6,
		MaxPerpendicularVariability: math.Pi / 6,
		DaughtersInitialDistance:    3.0,
		InitialRadius:               1.5,
		NamingPolicy:                naming.PolicyLineage,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("naming_policy", func(fl validator.FieldLevel) bool {
		return naming.Policy(fl.Field().String()).Valid()
	})
	if err != nil {
		panic(fmt.Sprintf("simulation: register naming_policy validation: %v", err))
	}
	return v
}

// Validate returns a *ConfigError for the first rejected field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ConfigError{Field: fe.Field(), Reason: describe(fe)}
	}
	return &ConfigError{Reason: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "gtefield":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "naming_policy":
		return fmt.Sprintf("unknown naming policy %q", fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// dimCompensation converts the configured step length into a per-axis
// standard deviation so the root-mean-square displacement equals UsualStepSize.
func (c Config) dimCompensation() float64 {
	if c.Do2DOnly {
		return math.Sqrt2
	}
	return math.Sqrt(3)
}
