// Package blob builds the randomized ellipsoidal cavity shape for one
// synthetic resection. A rotated ellipsoid with the requested
// equivalent-sphere volume is rasterized at a randomly chosen voxel inside
// the eligible placement region, clipped to the resectable hemisphere, and
// smoothed into a soft [0,1] membership field.
package blob

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"resector3d/pkg/sampling"
	"resector3d/pkg/volume"
)

// ErrNoEligibleCenter is returned when the intersection of the gray matter
// and resectable masks contains no voxels. The caller must guarantee
// non-empty masks; this is a precondition failure, not a retryable state.
var ErrNoEligibleCenter = errors.New("no eligible cavity center: gray matter and resectable masks do not overlap")

// Cavity is the realized shape of one resection.
type Cavity struct {
	// Soft is the [0,1] cavity membership field driving the intensity
	// blend. Values come from Gaussian-blurring the hard indicator, so
	// the transition band width follows the sampled sigmas.
	Soft *volume.Volume

	// Hard is the binary cavity mask used for the output label. It is the
	// pre-blur ellipsoid indicator clipped to the resectable mask, which
	// keeps the label exactly contained in resectable anatomy regardless
	// of blur leakage.
	Hard *volume.Mask

	// Center is the voxel the ellipsoid was centered on
	Center [3]int
}

// Generate builds the cavity for the sampled parameters. The center voxel
// is drawn uniformly over the foreground of grayMatter AND resectable; the
// ellipsoid is then rasterized in physical (mm) units around it and clipped
// so the cavity never crosses into disallowed anatomy.
func Generate(rng *rand.Rand, grayMatter, resectable *volume.Mask, p sampling.Parameters) (*Cavity, error) {
	if err := grayMatter.Grid.CheckSameAs(resectable.Grid, "resectable mask"); err != nil {
		return nil, err
	}
	if p.Volume <= 0 {
		return nil, fmt.Errorf("target volume %g mm^3 is not positive", p.Volume)
	}
	if p.RadiiRatio <= 0 {
		return nil, fmt.Errorf("radii ratio %g is not positive", p.RadiiRatio)
	}

	eligible, err := grayMatter.Intersect(resectable)
	if err != nil {
		return nil, err
	}
	candidates := eligible.Foreground()
	if len(candidates) == 0 {
		return nil, ErrNoEligibleCenter
	}
	cx, cy, cz := eligible.Coords(candidates[rng.Intn(len(candidates))])

	a, b, c := semiAxes(p.Volume, p.RadiiRatio)
	rot := rotationMatrix(p.Angles)

	hard := rasterizeEllipsoid(resectable, [3]int{cx, cy, cz}, [3]float64{a, b, c}, rot)
	soft := gaussianBlur(hard.AsVolume(), p.Sigmas)
	clampUnit(soft)

	return &Cavity{
		Soft:   soft,
		Hard:   hard,
		Center: [3]int{cx, cy, cz},
	}, nil
}

// semiAxes derives the three ellipsoid semi-axes in mm from the
// equivalent-sphere volume and the ratio between two of them. With
// r = (3V / 4pi)^(1/3), the axes r, r*ratio and r/ratio keep the product
// a*b*c equal to r^3 so the target volume is preserved exactly.
func semiAxes(targetVolume, ratio float64) (a, b, c float64) {
	r := math.Cbrt(3 * targetVolume / (4 * math.Pi))
	return r, r * ratio, r / ratio
}

// rotationMatrix composes intrinsic rotations about the z, y and x axes
// from angles given in degrees.
func rotationMatrix(angles [3]float64) *mat.Dense {
	ax := angles[0] * math.Pi / 180
	ay := angles[1] * math.Pi / 180
	az := angles[2] * math.Pi / 180

	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(ax), -math.Sin(ax),
		0, math.Sin(ax), math.Cos(ax),
	})
	ry := mat.NewDense(3, 3, []float64{
		math.Cos(ay), 0, math.Sin(ay),
		0, 1, 0,
		-math.Sin(ay), 0, math.Cos(ay),
	})
	rz := mat.NewDense(3, 3, []float64{
		math.Cos(az), -math.Sin(az), 0,
		math.Sin(az), math.Cos(az), 0,
		0, 0, 1,
	})

	var zy, zyx mat.Dense
	zy.Mul(rz, ry)
	zyx.Mul(&zy, rx)
	return &zyx
}

// rasterizeEllipsoid marks every voxel whose physical offset from the
// center lies inside the rotated ellipsoid, restricted to the resectable
// mask. Only the bounding box of the largest semi-axis is scanned.
func rasterizeEllipsoid(resectable *volume.Mask, center [3]int, axes [3]float64, rot *mat.Dense) *volume.Mask {
	g := resectable.Grid
	out := volume.NewMask(g)

	maxAxis := math.Max(axes[0], math.Max(axes[1], axes[2]))
	var lo, hi [3]int
	for i := 0; i < 3; i++ {
		span := int(math.Ceil(maxAxis/g.Spacing[i])) + 1
		lo[i] = center[i] - span
		hi[i] = center[i] + span
	}

	// Offsets are rotated into the ellipsoid frame with the transpose
	// (inverse) of the rotation matrix.
	offset := mat.NewVecDense(3, nil)
	local := mat.NewVecDense(3, nil)
	for z := lo[2]; z <= hi[2]; z++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for x := lo[0]; x <= hi[0]; x++ {
				if !g.Contains(x, y, z) || !resectable.At(x, y, z) {
					continue
				}
				offset.SetVec(0, float64(x-center[0])*g.Spacing[0])
				offset.SetVec(1, float64(y-center[1])*g.Spacing[1])
				offset.SetVec(2, float64(z-center[2])*g.Spacing[2])
				local.MulVec(rot.T(), offset)

				u := local.AtVec(0) / axes[0]
				v := local.AtVec(1) / axes[1]
				w := local.AtVec(2) / axes[2]
				if u*u+v*v+w*w <= 1 {
					out.Set(x, y, z, true)
				}
			}
		}
	}
	return out
}

func clampUnit(v *volume.Volume) {
	for i, val := range v.Data {
		if val < 0 {
			v.Data[i] = 0
		} else if val > 1 {
			v.Data[i] = 1
		}
	}
}
