package resection

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"resector3d/pkg/sampling"
	"resector3d/pkg/volume"
)

// blockMask returns a mask on an n^3 grid with a filled block between lo
// (inclusive) and hi (exclusive) on every axis
func blockMask(n, lo, hi int) *volume.Mask {
	m := volume.NewMask(volume.NewGrid(n, n, n))
	for z := lo; z < hi; z++ {
		for y := lo; y < hi; y++ {
			for x := lo; x < hi; x++ {
				m.Set(x, y, z, true)
			}
		}
	}
	return m
}

func constantVolume(n int, value float64) *volume.Volume {
	v := volume.New(volume.NewGrid(n, n, n))
	v.Fill(value)
	return v
}

func testParams() sampling.Parameters {
	return sampling.Parameters{
		Hemisphere: sampling.Left,
		Volume:     1000,
		Sigmas:     [3]float64{0.7, 0.7, 0.7},
		RadiiRatio: 1.1,
		Angles:     [3]float64{20, 45, 130},
	}
}

// TestResectOutputGeometry verifies outputs share the input grid and the
// inputs are untouched
func TestResectOutputGeometry(t *testing.T) {
	n := 32
	brain := constantVolume(n, 100)
	gray := blockMask(n, 4, 28)
	resectable := blockMask(n, 4, 28)
	noise := constantVolume(n, 0)

	before := brain.Clone()

	rng := rand.New(rand.NewSource(8))
	image, label, center, err := Resect(rng, brain, gray, resectable, noise, testParams(), false)
	if err != nil {
		t.Fatalf("Resect failed: %v", err)
	}

	if !image.Grid.SameAs(brain.Grid) {
		t.Error("Output image grid differs from input grid")
	}
	if !label.Grid.SameAs(brain.Grid) {
		t.Error("Output label grid differs from input grid")
	}
	if !resectable.At(center[0], center[1], center[2]) {
		t.Errorf("Center %v outside resectable mask", center)
	}
	for i := range brain.Data {
		if brain.Data[i] != before.Data[i] {
			t.Fatal("Resect mutated the input brain volume")
		}
	}
}

// TestResectBlending runs the reference scenario: constant brain at 100,
// zero noise, filled block masks. Voxels far from the cavity keep their
// intensity and the cavity core approaches the noise value.
func TestResectBlending(t *testing.T) {
	n := 64
	brain := constantVolume(n, 100)
	gray := blockMask(n, 0, n)
	resectable := blockMask(n, 0, n)
	noise := constantVolume(n, 0)

	rng := rand.New(rand.NewSource(21))
	image, label, center, err := Resect(rng, brain, gray, resectable, noise, testParams(), false)
	if err != nil {
		t.Fatalf("Resect failed: %v", err)
	}

	if label.Count() == 0 {
		t.Fatal("Cavity label is empty")
	}

	// Deep inside the cavity the blend approaches the noise value
	if got := image.At(center[0], center[1], center[2]); got > 10 {
		t.Errorf("Cavity core intensity %f, want close to 0", got)
	}

	// The voxel farthest from the center is far outside the transition
	// band for any admissible cavity size and sigma
	fx, fy, fz := 0, 0, 0
	if center[0] < n/2 {
		fx = n - 1
	}
	if center[1] < n/2 {
		fy = n - 1
	}
	if center[2] < n/2 {
		fz = n - 1
	}
	if got := image.At(fx, fy, fz); math.Abs(got-100) > 1e-6 {
		t.Errorf("Far-field intensity %f, want 100", got)
	}
}

// TestResectLabelContainment verifies the label never leaves the
// resectable mask even when the requested cavity exceeds it
func TestResectLabelContainment(t *testing.T) {
	n := 32
	brain := constantVolume(n, 100)
	resectable := blockMask(n, 12, 20)
	gray := resectable.Clone()
	noise := constantVolume(n, 0)

	p := testParams()
	p.Volume = 20000 // far larger than the 512 mm^3 block

	rng := rand.New(rand.NewSource(30))
	_, label, _, err := Resect(rng, brain, gray, resectable, noise, p, false)
	if err != nil {
		t.Fatalf("Resect failed: %v", err)
	}

	for i, set := range label.Data {
		if set && !resectable.Data[i] {
			t.Fatal("Label voxel outside resectable mask")
		}
	}
	if label.Count() > resectable.Count() {
		t.Errorf("Label count %d exceeds resectable count %d", label.Count(), resectable.Count())
	}
}

// TestResectGridMismatch verifies mismatched input geometry is rejected
func TestResectGridMismatch(t *testing.T) {
	brain := constantVolume(16, 100)
	gray := blockMask(16, 0, 16)
	resectable := blockMask(16, 0, 16)
	smallNoise := constantVolume(8, 0)

	rng := rand.New(rand.NewSource(2))
	if _, _, _, err := Resect(rng, brain, gray, resectable, smallNoise, testParams(), false); err == nil {
		t.Error("Expected error for mismatched noise grid")
	}
}
