// Package resection carves synthetic post-surgical cavities into brain MRI
// volumes. Resect is the core compositor; RandomResection wraps it as a
// sample-level transform for augmentation pipelines.
package resection

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"resector3d/pkg/blob"
	"resector3d/pkg/sampling"
	"resector3d/pkg/volume"
)

// Resect carves one cavity into the brain volume. It places a randomized
// ellipsoidal blob inside the gray-matter/resectable intersection, blends
// the noise texture into the cavity through the Gaussian-softened mask, and
// returns the resected image, the binary cavity label and the realized
// center voxel. No input is mutated; the outputs share the brain's grid.
func Resect(
	rng *rand.Rand,
	brain *volume.Volume,
	grayMatter *volume.Mask,
	resectable *volume.Mask,
	noise *volume.Volume,
	params sampling.Parameters,
	verbose bool,
) (*volume.Volume, *volume.Mask, [3]int, error) {
	var zero [3]int
	if err := brain.Grid.CheckSameAs(grayMatter.Grid, "gray matter mask"); err != nil {
		return nil, nil, zero, err
	}
	if err := brain.Grid.CheckSameAs(resectable.Grid, "resectable mask"); err != nil {
		return nil, nil, zero, err
	}
	if err := brain.Grid.CheckSameAs(noise.Grid, "noise image"); err != nil {
		return nil, nil, zero, err
	}

	start := time.Now()
	cavity, err := blob.Generate(rng, grayMatter, resectable, params)
	if err != nil {
		return nil, nil, zero, fmt.Errorf("generating cavity blob: %w", err)
	}
	if verbose {
		fmt.Printf("[Generate cavity blob]: %.1f seconds\n", time.Since(start).Seconds())
	}

	// Convex blend: voxels fully inside the cavity take the noise texture,
	// voxels outside keep the original intensity, and the soft mask drives
	// the transition band in between.
	start = time.Now()
	resected := volume.New(brain.Grid)
	for i, w := range cavity.Soft.Data {
		resected.Data[i] = (1-w)*brain.Data[i] + w*noise.Data[i]
	}
	if verbose {
		fmt.Printf("[Blend noise into cavity]: %.1f seconds\n", time.Since(start).Seconds())
	}

	return resected, cavity.Hard.Clone(), cavity.Center, nil
}
