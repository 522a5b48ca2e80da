package resection

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"resector3d/pkg/sampling"
	"resector3d/pkg/volume"
)

// Sample is the typed record exchanged with the augmentation host. The five
// mask/noise inputs must share the image's grid; the transform fills Image,
// Label and Resection and, when delete-keys is enabled, nils out the
// consumed inputs.
type Sample struct {
	// Image is the skull-stripped brain volume; replaced by the resected
	// image on output
	Image *volume.Volume

	// ResectableLeft and ResectableRight bound where a cavity may be
	// carved in each hemisphere
	ResectableLeft  *volume.Mask
	ResectableRight *volume.Mask

	// GrayMatterLeft and GrayMatterRight restrict where a cavity may be
	// centered
	GrayMatterLeft  *volume.Mask
	GrayMatterRight *volume.Mask

	// Noise is the texture volume blended into the cavity
	Noise *volume.Volume

	// Label is the two-channel background/foreground cavity segmentation,
	// populated on output
	Label *Label

	// Resection records the realized parameters of the applied transform,
	// populated on output
	Resection *sampling.Parameters
}

// Label is a channel-first two-channel voxel mask. Background is the
// elementwise complement of Foreground; both are strictly {0,1} valued.
type Label struct {
	Background *volume.Volume
	Foreground *volume.Volume
}

// newLabel builds the two-channel label from the hard cavity mask.
func newLabel(cavity *volume.Mask) *Label {
	fg := cavity.AsVolume()
	bg := volume.New(cavity.Grid)
	for i := range bg.Data {
		bg.Data[i] = 1 - fg.Data[i]
	}
	return &Label{Background: bg, Foreground: fg}
}

// RandomResection applies one randomized synthetic resection per sample.
type RandomResection struct {
	sampler    *sampling.Sampler
	deleteKeys bool
	verbose    bool
}

// Config configures the transform. Sampler options are validated eagerly so
// a volumes/volumes-range misconfiguration fails before any sample is seen.
type Config struct {
	// Sampler holds the parameter ranges or the volume catalog
	Sampler sampling.Options

	// DeleteKeys drops the five consumed mask/noise inputs from the
	// sample after the transform runs
	DeleteKeys bool

	// Verbose prints per-stage timing diagnostics
	Verbose bool
}

// NewRandomResection validates the configuration and builds the transform.
func NewRandomResection(cfg Config) (*RandomResection, error) {
	sampler, err := sampling.NewSampler(cfg.Sampler)
	if err != nil {
		return nil, err
	}
	return &RandomResection{
		sampler:    sampler,
		deleteKeys: cfg.DeleteKeys,
		verbose:    cfg.Verbose,
	}, nil
}

// Apply draws parameters, carves the cavity and rewrites the sample in
// place: Image becomes the resected volume, Label the two-channel cavity
// segmentation, and Resection the realized parameters. The input volumes
// themselves are never mutated, only the record's fields are reassigned.
func (t *RandomResection) Apply(sample *Sample, rng *rand.Rand) error {
	start := time.Now()
	if err := checkSample(sample); err != nil {
		return err
	}

	params := t.sampler.Draw(rng)

	grayMatter := sample.GrayMatterLeft
	resectable := sample.ResectableLeft
	if params.Hemisphere == sampling.Right {
		grayMatter = sample.GrayMatterRight
		resectable = sample.ResectableRight
	}
	if t.verbose {
		fmt.Printf("[Prepare resection images]: %.1f seconds\n", time.Since(start).Seconds())
	}

	resected, cavity, center, err := Resect(
		rng, sample.Image, grayMatter, resectable, sample.Noise, params, t.verbose)
	if err != nil {
		return fmt.Errorf("resecting %s hemisphere: %w", params.Hemisphere, err)
	}
	params.Center = center

	sample.Image = resected
	sample.Label = newLabel(cavity)
	sample.Resection = &params

	if t.deleteKeys {
		sample.GrayMatterLeft = nil
		sample.GrayMatterRight = nil
		sample.ResectableLeft = nil
		sample.ResectableRight = nil
		sample.Noise = nil
	}

	if t.verbose {
		fmt.Printf("RandomResection: %.1f seconds\n", time.Since(start).Seconds())
	}
	return nil
}

func checkSample(s *Sample) error {
	type input struct {
		name string
		ok   bool
	}
	inputs := []input{
		{"image", s.Image != nil},
		{"resectable_left", s.ResectableLeft != nil},
		{"resectable_right", s.ResectableRight != nil},
		{"gray_matter_left", s.GrayMatterLeft != nil},
		{"gray_matter_right", s.GrayMatterRight != nil},
		{"noise", s.Noise != nil},
	}
	for _, in := range inputs {
		if !in.ok {
			return fmt.Errorf("sample is missing required input %q", in.name)
		}
	}
	grids := []struct {
		name string
		grid volume.Grid
	}{
		{"resectable_left", s.ResectableLeft.Grid},
		{"resectable_right", s.ResectableRight.Grid},
		{"gray_matter_left", s.GrayMatterLeft.Grid},
		{"gray_matter_right", s.GrayMatterRight.Grid},
		{"noise", s.Noise.Grid},
	}
	var errs []error
	for _, g := range grids {
		if err := s.Image.Grid.CheckSameAs(g.grid, g.name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
