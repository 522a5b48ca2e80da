package blob

import (
	"errors"
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"resector3d/pkg/sampling"
	"resector3d/pkg/volume"
)

// fullMask returns a mask with every voxel set on a cubic grid
func fullMask(n int) *volume.Mask {
	m := volume.NewMask(volume.NewGrid(n, n, n))
	for i := range m.Data {
		m.Data[i] = true
	}
	return m
}

func fixedParams(targetVolume float64) sampling.Parameters {
	return sampling.Parameters{
		Volume:     targetVolume,
		Sigmas:     [3]float64{0.5, 0.5, 0.5},
		RadiiRatio: 1.0,
		Angles:     [3]float64{0, 0, 0},
	}
}

// TestSemiAxesPreserveVolume verifies that the derived semi-axes reproduce
// the requested equivalent-sphere volume
func TestSemiAxesPreserveVolume(t *testing.T) {
	for _, tc := range []struct {
		volume float64
		ratio  float64
	}{
		{50, 0.5},
		{1000, 1.0},
		{5000, 1.5},
	} {
		a, b, c := semiAxes(tc.volume, tc.ratio)
		got := 4.0 / 3.0 * math.Pi * a * b * c
		if math.Abs(got-tc.volume)/tc.volume > 1e-9 {
			t.Errorf("semiAxes(%f, %f): ellipsoid volume %f, want %f",
				tc.volume, tc.ratio, got, tc.volume)
		}
	}
}

// TestRotationMatrixIsOrthonormal verifies the composed rotation preserves
// lengths
func TestRotationMatrixIsOrthonormal(t *testing.T) {
	rot := rotationMatrix([3]float64{30, 75, 120})

	// Columns should be unit length and mutually orthogonal
	for i := 0; i < 3; i++ {
		norm := 0.0
		for r := 0; r < 3; r++ {
			norm += rot.At(r, i) * rot.At(r, i)
		}
		if math.Abs(norm-1) > 1e-12 {
			t.Errorf("Column %d norm^2 = %f, want 1", i, norm)
		}
		for j := i + 1; j < 3; j++ {
			dot := 0.0
			for r := 0; r < 3; r++ {
				dot += rot.At(r, i) * rot.At(r, j)
			}
			if math.Abs(dot) > 1e-12 {
				t.Errorf("Columns %d and %d not orthogonal: dot = %f", i, j, dot)
			}
		}
	}
}

// TestGaussianKernel verifies normalization and symmetry of the 1D kernel
func TestGaussianKernel(t *testing.T) {
	t.Run("Identity", func(t *testing.T) {
		k := gaussianKernel(0)
		if len(k) != 1 || k[0] != 1 {
			t.Errorf("Zero sigma should yield identity kernel, got %v", k)
		}
	})

	t.Run("Normalized", func(t *testing.T) {
		k := gaussianKernel(1.5)
		sum := 0.0
		for _, v := range k {
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("Kernel sum = %f, want 1", sum)
		}
		for i := range k {
			if k[i] != k[len(k)-1-i] {
				t.Fatalf("Kernel not symmetric at %d", i)
			}
		}
	})
}

// TestGaussianBlurPreservesConstantField verifies that blurring a constant
// volume is a no-op up to rounding
func TestGaussianBlurPreservesConstantField(t *testing.T) {
	v := volume.New(volume.NewGrid(8, 8, 8))
	v.Fill(0.75)

	out := gaussianBlur(v, [3]float64{1, 0.7, 0.5})
	for i, val := range out.Data {
		if math.Abs(val-0.75) > 1e-9 {
			t.Fatalf("Blurred constant field changed at %d: %f", i, val)
		}
	}
}

// TestGenerateContainment verifies the cavity never leaves the resectable
// mask and its soft field stays in [0,1]
func TestGenerateContainment(t *testing.T) {
	gray := fullMask(32)

	// Resectable region is a block in one corner
	resectable := volume.NewMask(gray.Grid)
	for z := 0; z < 16; z++ {
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				resectable.Set(x, y, z, true)
			}
		}
	}

	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 20; i++ {
		p := fixedParams(2000)
		p.Angles = [3]float64{float64(i) * 9, float64(i) * 17, float64(i) * 31}
		cavity, err := Generate(rng, gray, resectable, p)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}

		if cavity.Hard.Count() == 0 {
			t.Fatal("Cavity is empty")
		}
		for idx, set := range cavity.Hard.Data {
			if set && !resectable.Data[idx] {
				x, y, z := cavity.Hard.Coords(idx)
				t.Fatalf("Cavity voxel (%d,%d,%d) outside resectable mask", x, y, z)
			}
		}
		for idx, val := range cavity.Soft.Data {
			if val < 0 || val > 1 {
				t.Fatalf("Soft field value %f at %d outside [0,1]", val, idx)
			}
		}
		if !resectable.At(cavity.Center[0], cavity.Center[1], cavity.Center[2]) {
			t.Fatalf("Center %v outside resectable mask", cavity.Center)
		}
	}
}

// TestGenerateVolumeAccuracy verifies that an unclipped unrotated cavity
// realizes approximately the requested volume
func TestGenerateVolumeAccuracy(t *testing.T) {
	n := 48
	gray := volume.NewMask(volume.NewGrid(n, n, n))
	// Restrict eligible centers to the middle so the ellipsoid never
	// touches the grid boundary
	c := n / 2
	gray.Set(c, c, c, true)
	resectable := fullMask(n)

	target := 3000.0
	cavity, err := Generate(rand.New(rand.NewSource(1)), gray, resectable, fixedParams(target))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	got := float64(cavity.Hard.Count()) * gray.VoxelVolume()
	if math.Abs(got-target)/target > 0.15 {
		t.Errorf("Realized volume %f deviates more than 15%% from target %f", got, target)
	}
}

// TestGenerateClipsOversizedCavity verifies that a cavity larger than the
// available anatomy is clipped to it
func TestGenerateClipsOversizedCavity(t *testing.T) {
	// Tiny resectable block of 4x4x4 = 64 voxels
	g := volume.NewGrid(16, 16, 16)
	resectable := volume.NewMask(g)
	for z := 6; z < 10; z++ {
		for y := 6; y < 10; y++ {
			for x := 6; x < 10; x++ {
				resectable.Set(x, y, z, true)
			}
		}
	}
	gray := resectable.Clone()

	// Target volume far exceeds the 64 mm^3 of available anatomy
	cavity, err := Generate(rand.New(rand.NewSource(2)), gray, resectable, fixedParams(5000))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if got, max := cavity.Hard.Count(), resectable.Count(); got > max {
		t.Errorf("Clipped cavity has %d voxels, exceeds resectable %d", got, max)
	}
	if cavity.Hard.Count() == 0 {
		t.Error("Clipped cavity should not be empty")
	}
}

// TestGenerateEmptyIntersection verifies the fatal precondition on
// non-overlapping masks
func TestGenerateEmptyIntersection(t *testing.T) {
	g := volume.NewGrid(8, 8, 8)
	gray := volume.NewMask(g)
	gray.Set(1, 1, 1, true)
	resectable := volume.NewMask(g)
	resectable.Set(6, 6, 6, true)

	_, err := Generate(rand.New(rand.NewSource(3)), gray, resectable, fixedParams(100))
	if !errors.Is(err, ErrNoEligibleCenter) {
		t.Errorf("Expected ErrNoEligibleCenter, got %v", err)
	}
}

// TestGenerateRejectsDegenerateParameters verifies guard rails on invalid
// geometry
func TestGenerateRejectsDegenerateParameters(t *testing.T) {
	gray := fullMask(8)
	resectable := fullMask(8)
	rng := rand.New(rand.NewSource(5))

	p := fixedParams(0)
	if _, err := Generate(rng, gray, resectable, p); err == nil {
		t.Error("Expected error for zero target volume")
	}

	p = fixedParams(100)
	p.RadiiRatio = 0
	if _, err := Generate(rng, gray, resectable, p); err == nil {
		t.Error("Expected error for zero radii ratio")
	}
}

// TestGenerateIsDeterministic verifies identical seeds produce identical
// cavities
func TestGenerateIsDeterministic(t *testing.T) {
	gray := fullMask(16)
	resectable := fullMask(16)
	p := fixedParams(800)
	p.Angles = [3]float64{10, 50, 110}

	a, err := Generate(rand.New(rand.NewSource(12)), gray, resectable, p)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	b, err := Generate(rand.New(rand.NewSource(12)), gray, resectable, p)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if a.Center != b.Center {
		t.Fatalf("Centers differ: %v vs %v", a.Center, b.Center)
	}
	for i := range a.Soft.Data {
		if a.Soft.Data[i] != b.Soft.Data[i] {
			t.Fatalf("Soft fields differ at %d", i)
		}
		if a.Hard.Data[i] != b.Hard.Data[i] {
			t.Fatalf("Hard masks differ at %d", i)
		}
	}
}
