// Package visualization renders quality-control previews of resected
// volumes. Slices through the cavity center are written as grayscale JPEGs
// with the cavity label burned in at full intensity, which makes eyeballing
// a batch of augmented samples quick.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"resector3d/pkg/volume"
)

// Viewer renders 2D previews of one resected volume and its cavity label.
type Viewer struct {
	// vol is the resected image to preview
	vol *volume.Volume

	// cavity marks the resection label; may be nil when no overlay is wanted
	cavity *volume.Mask

	// lo and hi are the intensity bounds used for display normalization
	lo, hi float64
}

// NewViewer creates a preview renderer. The display window is stretched to
// the volume's intensity range.
func NewViewer(vol *volume.Volume, cavity *volume.Mask) *Viewer {
	v := &Viewer{vol: vol, cavity: cavity}
	v.lo, v.hi = vol.Data[0], vol.Data[0]
	for _, val := range vol.Data {
		if val < v.lo {
			v.lo = val
		}
		if val > v.hi {
			v.hi = val
		}
	}
	return v
}

func (v *Viewer) gray(val float64) uint16 {
	if v.hi == v.lo {
		return 0
	}
	n := (val - v.lo) / (v.hi - v.lo)
	if n < 0 {
		n = 0
	} else if n > 1 {
		n = 1
	}
	return uint16(n * 65535)
}

func (v *Viewer) pixel(x, y, z int) color.Gray16 {
	if v.cavity != nil && v.cavity.At(x, y, z) {
		return color.Gray16{Y: 65535}
	}
	return color.Gray16{Y: v.gray(v.vol.At(x, y, z))}
}

// ExtractSlice renders a 2D slice from the volume along the specified axis
// with the cavity overlay applied.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	g := v.vol.Grid

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position >= g.Nx {
			return nil, fmt.Errorf("position %d exceeds width %d", position, g.Nx)
		}
		img = image.NewGray16(image.Rect(0, 0, g.Nz, g.Ny))
		for y := 0; y < g.Ny; y++ {
			for z := 0; z < g.Nz; z++ {
				img.SetGray16(z, y, v.pixel(position, y, z))
			}
		}
	case "y", "Y":
		if position >= g.Ny {
			return nil, fmt.Errorf("position %d exceeds height %d", position, g.Ny)
		}
		img = image.NewGray16(image.Rect(0, 0, g.Nx, g.Nz))
		for z := 0; z < g.Nz; z++ {
			for x := 0; x < g.Nx; x++ {
				img.SetGray16(x, z, v.pixel(x, position, z))
			}
		}
	case "z", "Z":
		if position >= g.Nz {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, g.Nz)
		}
		img = image.NewGray16(image.Rect(0, 0, g.Nx, g.Ny))
		for y := 0; y < g.Ny; y++ {
			for x := 0; x < g.Nx; x++ {
				img.SetGray16(x, y, v.pixel(x, y, position))
			}
		}
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveOrthogonal writes the three orthogonal slices through the given voxel
// (typically the realized cavity center) into outputDir, one JPEG per axis.
func (v *Viewer) SaveOrthogonal(center [3]int, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	positions := map[string]int{
		"x": center[0],
		"y": center[1],
		"z": center[2],
	}
	for _, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, positions[axis])
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("preview_%s_%03d.jpg", axis, positions[axis]))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
