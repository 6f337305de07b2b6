// Package physics simulates similarity-driven forces between canvas items.
package physics

// Config holds the force constants and integration parameters of an Engine.
type Config struct {
	// GravityStrength scales the attraction between similar bodies.
	GravityStrength float64 `json:"gravity_strength"`
	// RepulsionStrength is the repulsion magnitude at zero distance.
	RepulsionStrength float64 `json:"repulsion_strength"`
	// SimilarityThreshold is the hard cutoff below which no attraction applies.
	SimilarityThreshold float64 `json:"similarity_threshold"`
	// MaxAttractionDistance bounds the range of attraction.
	MaxAttractionDistance float64 `json:"max_attraction_distance"`
	// MinRepulsionDistance bounds the range of repulsion.
	MinRepulsionDistance float64 `json:"min_repulsion_distance"`

	Damping     float64 `json:"damping"`
	MaxVelocity float64 `json:"max_velocity"`
	// TimeStep is the simulated seconds advanced per Step.
	TimeStep float64 `json:"time_step"`
	// ScaleFactor converts simulated displacement into canvas units.
	ScaleFactor float64 `json:"scale_factor"`
	// RestSpeed is the speed under which a body snaps to rest.
	RestSpeed float64 `json:"rest_speed"`

	// PlacementJitter is the half-width of the uniform jitter added by SuggestPosition.
	PlacementJitter float64 `json:"placement_jitter"`
	// PlacementNeighbors is how many similar items SuggestPosition averages over.
	PlacementNeighbors int `json:"placement_neighbors"`
}

// Physics defaults.
const (
	DefaultGravityStrength       = 5000.0
	DefaultRepulsionStrength     = 2000.0
	DefaultSimilarityThreshold   = 0.7
	DefaultMaxAttractionDistance = 800.0
	DefaultMinRepulsionDistance  = 100.0
	DefaultDamping               = 0.80
	DefaultMaxVelocity           = 15.0
	DefaultTimeStep              = 0.016
	DefaultScaleFactor           = 60.0
	DefaultRestSpeed             = 0.1
	DefaultPlacementJitter       = 50.0
	DefaultPlacementNeighbors    = 3

	// DefaultMass and DefaultRadius apply to bodies added without them.
	DefaultMass   = 1.0
	DefaultRadius = 40.0

	// minForceDistance floor-clamps the distance used as a force denominator.
	minForceDistance = 1.0
)

// Neighbor query defaults used when a caller omits them.
const (
	DefaultNeighborDistance   = 500.0
	DefaultNeighborSimilarity = 0.6
)

// DefaultConfig returns the default simulation parameters.
func DefaultConfig() Config {
	return Config{
		GravityStrength:       DefaultGravityStrength,
		RepulsionStrength:     DefaultRepulsionStrength,
		SimilarityThreshold:   DefaultSimilarityThreshold,
		MaxAttractionDistance: DefaultMaxAttractionDistance,
		MinRepulsionDistance:  DefaultMinRepulsionDistance,
		Damping:               DefaultDamping,
		MaxVelocity:           DefaultMaxVelocity,
		TimeStep:              DefaultTimeStep,
		ScaleFactor:           DefaultScaleFactor,
		RestSpeed:             DefaultRestSpeed,
		PlacementJitter:       DefaultPlacementJitter,
		PlacementNeighbors:    DefaultPlacementNeighbors,
	}
}

// normalized replaces out-of-range values with defaults so a bad settings
// file can never produce NaN forces or runaway velocities.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.GravityStrength < 0 {
		c.GravityStrength = d.GravityStrength
	}
	if c.RepulsionStrength < 0 {
		c.RepulsionStrength = d.RepulsionStrength
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold >= 1 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.MaxAttractionDistance <= 0 {
		c.MaxAttractionDistance = d.MaxAttractionDistance
	}
	if c.MinRepulsionDistance <= 0 {
		c.MinRepulsionDistance = d.MinRepulsionDistance
	}
	if c.Damping <= 0 || c.Damping >= 1 {
		c.Damping = d.Damping
	}
	if c.MaxVelocity <= 0 {
		c.MaxVelocity = d.MaxVelocity
	}
	if c.TimeStep <= 0 {
		c.TimeStep = d.TimeStep
	}
	if c.ScaleFactor <= 0 {
		c.ScaleFactor = d.ScaleFactor
	}
	if c.RestSpeed < 0 {
		c.RestSpeed = d.RestSpeed
	}
	if c.PlacementJitter < 0 {
		c.PlacementJitter = d.PlacementJitter
	}
	if c.PlacementNeighbors <= 0 {
		c.PlacementNeighbors = d.PlacementNeighbors
	}
	return c
}
