package blob

import (
	"math"

	"resector3d/pkg/volume"
)

// gaussianKernel builds a normalized 1D Gaussian kernel for the given
// stddev in voxel units. The kernel is truncated at 4 sigma, matching the
// discrete Gaussian used by common medical imaging toolkits. A stddev at or
// below zero yields a single-tap identity kernel.
func gaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(4 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// blurAxis convolves the volume with a 1D kernel along one axis (0=x, 1=y,
// 2=z) using clamp-to-edge boundary handling, writing into dst. src and dst
// must share the same grid and must not alias.
func blurAxis(dst, src *volume.Volume, axis int, kernel []float64) {
	radius := len(kernel) / 2
	g := src.Grid
	for z := 0; z < g.Nz; z++ {
		for y := 0; y < g.Ny; y++ {
			for x := 0; x < g.Nx; x++ {
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					xx, yy, zz := x, y, z
					switch axis {
					case 0:
						xx = clamp(x+k, g.Nx-1)
					case 1:
						yy = clamp(y+k, g.Ny-1)
					default:
						zz = clamp(z+k, g.Nz-1)
					}
					acc += kernel[k+radius] * src.At(xx, yy, zz)
				}
				dst.Set(x, y, z, acc)
			}
		}
	}
}

func clamp(i, max int) int {
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

// gaussianBlur applies an anisotropic separable Gaussian blur to the volume.
// Sigmas are given in mm per axis and converted to voxel units through the
// grid spacing. The input is not modified.
func gaussianBlur(src *volume.Volume, sigmas [3]float64) *volume.Volume {
	cur := src.Clone()
	tmp := volume.New(src.Grid)
	for axis := 0; axis < 3; axis++ {
		sigmaVox := sigmas[axis] / src.Spacing[axis]
		kernel := gaussianKernel(sigmaVox)
		if len(kernel) == 1 {
			continue
		}
		blurAxis(tmp, cur, axis, kernel)
		cur, tmp = tmp, cur
	}
	return cur
}
