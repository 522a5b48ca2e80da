// Package sampling draws the randomized geometric and intensity parameters
// for one synthetic resection instance. All randomness flows through an
// explicit rand source supplied by the caller, so runs can be seeded and
// replayed without touching process-global state.
package sampling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Hemisphere identifies which side of the brain the cavity is placed in.
type Hemisphere string

const (
	Left  Hemisphere = "left"
	Right Hemisphere = "right"
)

// Range is an inclusive (min, max) interval for uniform sampling.
type Range [2]float64

// Min returns the lower bound of the range.
func (r Range) Min() float64 { return r[0] }

// Max returns the upper bound of the range.
func (r Range) Max() float64 { return r[1] }

func (r Range) valid() bool { return r[0] <= r[1] }

// ErrVolumesConfig is returned when neither or both of the volume catalog
// and the volume range are configured.
var ErrVolumesConfig = errors.New("exactly one of volumes or volumes range must be set")

// Parameters holds the realized parameters of one resection. Center is
// populated by the compositor once the cavity has been placed.
type Parameters struct {
	// ID tags this resection instance for provenance tracking
	ID uuid.UUID

	// Hemisphere is the side the cavity was carved into
	Hemisphere Hemisphere

	// Volume is the equivalent-sphere volume of the cavity in mm^3
	Volume float64

	// Sigmas are the per-axis Gaussian blur stddevs in mm that soften
	// the cavity edge
	Sigmas [3]float64

	// RadiiRatio is the ratio between two of the ellipsoid semi-axes
	RadiiRatio float64

	// Angles are the ellipsoid rotation angles about each axis in degrees
	Angles [3]float64

	// Center is the voxel coordinate the cavity was grown from
	Center [3]int
}

// Sampler produces Parameters instances from configured ranges or a fixed
// catalog of known cavity volumes.
type Sampler struct {
	volumes      []float64
	volumesRange *Range
	sigmas       Range
	radiiRatio   Range
	angles       Range
}

// Options configures a Sampler. Exactly one of Volumes and VolumesRange
// must be set; the remaining ranges fall back to the defaults used by the
// EPISURG augmentation recipe when left nil.
type Options struct {
	// Volumes is a catalog of cavity volumes in mm^3 to draw from
	Volumes []float64

	// VolumesRange draws cavity volumes uniformly from an interval instead
	VolumesRange *Range

	// SigmasRange bounds the per-axis blur stddevs, default (0.5, 1)
	SigmasRange *Range

	// RadiiRatioRange bounds the semi-axis ratio, default (0.5, 1.5)
	RadiiRatioRange *Range

	// AnglesRange bounds the rotation angles in degrees, default (0, 180)
	AnglesRange *Range
}

// NewSampler validates the options and builds a sampler. The volumes /
// volumes-range mutual exclusivity is checked here, before any randomness
// is consumed.
func NewSampler(opts Options) (*Sampler, error) {
	hasCatalog := len(opts.Volumes) > 0
	hasRange := opts.VolumesRange != nil
	if hasCatalog == hasRange {
		return nil, ErrVolumesConfig
	}
	s := &Sampler{
		volumes:    opts.Volumes,
		sigmas:     Range{0.5, 1},
		radiiRatio: Range{0.5, 1.5},
		angles:     Range{0, 180},
	}
	if hasCatalog {
		for _, v := range opts.Volumes {
			if v <= 0 {
				return nil, fmt.Errorf("volume catalog entry %g is not positive", v)
			}
		}
	} else {
		if !opts.VolumesRange.valid() || opts.VolumesRange.Min() <= 0 {
			return nil, fmt.Errorf("invalid volumes range %v: bounds must be positive and ordered", *opts.VolumesRange)
		}
		r := *opts.VolumesRange
		s.volumesRange = &r
	}
	if opts.SigmasRange != nil {
		if !opts.SigmasRange.valid() || opts.SigmasRange.Min() < 0 {
			return nil, fmt.Errorf("invalid sigmas range %v", *opts.SigmasRange)
		}
		s.sigmas = *opts.SigmasRange
	}
	if opts.RadiiRatioRange != nil {
		if !opts.RadiiRatioRange.valid() || opts.RadiiRatioRange.Min() <= 0 {
			return nil, fmt.Errorf("invalid radii ratio range %v", *opts.RadiiRatioRange)
		}
		s.radiiRatio = *opts.RadiiRatioRange
	}
	if opts.AnglesRange != nil {
		if !opts.AnglesRange.valid() {
			return nil, fmt.Errorf("invalid angles range %v", *opts.AnglesRange)
		}
		s.angles = *opts.AnglesRange
	}
	return s, nil
}

// Draw samples one set of resection parameters from the given source.
func (s *Sampler) Draw(rng *rand.Rand) Parameters {
	p := Parameters{ID: uuid.New()}

	// Unbiased coin flip for the hemisphere
	if rng.Float64() < 0.5 {
		p.Hemisphere = Left
	} else {
		p.Hemisphere = Right
	}

	// Equivalent-sphere volume: catalog entry or uniform draw
	if s.volumesRange != nil {
		p.Volume = uniform(s.volumesRange.Min(), s.volumesRange.Max(), rng)
	} else {
		p.Volume = s.volumes[rng.Intn(len(s.volumes))]
	}

	// Per-axis stddevs for the cavity edge blur
	for i := range p.Sigmas {
		p.Sigmas[i] = uniform(s.sigmas.Min(), s.sigmas.Max(), rng)
	}

	// Ratio between two of the ellipsoid semi-axes
	p.RadiiRatio = uniform(s.radiiRatio.Min(), s.radiiRatio.Max(), rng)

	// Rotation angles of the ellipsoid
	for i := range p.Angles {
		p.Angles[i] = uniform(s.angles.Min(), s.angles.Max(), rng)
	}

	return p
}

func uniform(min, max float64, rng *rand.Rand) float64 {
	if min == max {
		return min
	}
	return distuv.Uniform{Min: min, Max: max, Src: rng}.Rand()
}
