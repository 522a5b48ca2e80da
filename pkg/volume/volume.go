// Package volume provides the 3D volume and binary mask types shared by the
// resection pipeline. Volumes store scalar intensities as a flat []float64 in
// x-fastest (row-major) order together with the physical grid geometry
// (voxel spacing, origin and direction cosines) needed to map voxel indices
// to physical coordinates.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Grid describes the voxel lattice and its placement in physical space.
// All volumes and masks exchanged by the pipeline must share the same grid.
type Grid struct {
	// Nx, Ny, Nz are the voxel counts along each axis
	Nx, Ny, Nz int

	// Spacing is the physical size of one voxel along each axis in mm
	Spacing [3]float64

	// Origin is the physical coordinate of voxel (0,0,0) in mm
	Origin [3]float64

	// Direction holds the 3x3 direction cosine matrix in row-major order.
	// Identity means the voxel axes are aligned with the physical axes.
	Direction [9]float64
}

// NewGrid returns a grid with the given dimensions, unit spacing, zero
// origin and identity direction.
func NewGrid(nx, ny, nz int) Grid {
	return Grid{
		Nx:        nx,
		Ny:        ny,
		Nz:        nz,
		Spacing:   [3]float64{1, 1, 1},
		Origin:    [3]float64{0, 0, 0},
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// Len returns the total number of voxels in the grid.
func (g Grid) Len() int {
	return g.Nx * g.Ny * g.Nz
}

// Index converts voxel coordinates to a flat array index.
// No bounds checking is performed.
func (g Grid) Index(x, y, z int) int {
	return z*g.Nx*g.Ny + y*g.Nx + x
}

// Coords converts a flat array index back to voxel coordinates.
func (g Grid) Coords(i int) (x, y, z int) {
	x = i % g.Nx
	y = (i / g.Nx) % g.Ny
	z = i / (g.Nx * g.Ny)
	return x, y, z
}

// Contains reports whether the voxel coordinates lie inside the grid.
func (g Grid) Contains(x, y, z int) bool {
	return x >= 0 && x < g.Nx && y >= 0 && y < g.Ny && z >= 0 && z < g.Nz
}

// VoxelVolume returns the physical volume of one voxel in mm^3.
func (g Grid) VoxelVolume() float64 {
	return g.Spacing[0] * g.Spacing[1] * g.Spacing[2]
}

// PhysicalPoint maps voxel coordinates to a physical point in mm using the
// direction cosines, spacing and origin.
func (g Grid) PhysicalPoint(x, y, z int) [3]float64 {
	d := mat.NewDense(3, 3, g.Direction[:])
	v := mat.NewVecDense(3, []float64{
		float64(x) * g.Spacing[0],
		float64(y) * g.Spacing[1],
		float64(z) * g.Spacing[2],
	})
	var out mat.VecDense
	out.MulVec(d, v)
	return [3]float64{
		out.AtVec(0) + g.Origin[0],
		out.AtVec(1) + g.Origin[1],
		out.AtVec(2) + g.Origin[2],
	}
}

// SameAs reports whether two grids have identical dimensions, spacing,
// origin and direction.
func (g Grid) SameAs(o Grid) bool {
	return g == o
}

// CheckSameAs returns a descriptive error when the two grids differ.
func (g Grid) CheckSameAs(o Grid, what string) error {
	if !g.SameAs(o) {
		return fmt.Errorf("%s grid mismatch: have %dx%dx%d spacing %v, want %dx%dx%d spacing %v",
			what, o.Nx, o.Ny, o.Nz, o.Spacing, g.Nx, g.Ny, g.Nz, g.Spacing)
	}
	return nil
}

// Volume is a 3D scalar field on a grid.
type Volume struct {
	Grid

	// Data holds intensities in x-fastest order, length Nx*Ny*Nz
	Data []float64
}

// New allocates a zero-filled volume on the given grid.
func New(g Grid) *Volume {
	return &Volume{Grid: g, Data: make([]float64, g.Len())}
}

// At returns the intensity at voxel (x,y,z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set writes the intensity at voxel (x,y,z).
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[v.Index(x, y, z)] = val
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{Grid: v.Grid, Data: make([]float64, len(v.Data))}
	copy(out.Data, v.Data)
	return out
}

// Fill sets every voxel to the given value.
func (v *Volume) Fill(val float64) {
	for i := range v.Data {
		v.Data[i] = val
	}
}

// Mask is a 3D boolean field on a grid, used for gray matter, resectable
// hemisphere and cavity masks.
type Mask struct {
	Grid

	// Data holds membership flags in x-fastest order, length Nx*Ny*Nz
	Data []bool
}

// NewMask allocates an empty mask on the given grid.
func NewMask(g Grid) *Mask {
	return &Mask{Grid: g, Data: make([]bool, g.Len())}
}

// At returns the mask value at voxel (x,y,z).
func (m *Mask) At(x, y, z int) bool {
	return m.Data[m.Index(x, y, z)]
}

// Set writes the mask value at voxel (x,y,z).
func (m *Mask) Set(x, y, z int, val bool) {
	m.Data[m.Index(x, y, z)] = val
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	out := &Mask{Grid: m.Grid, Data: make([]bool, len(m.Data))}
	copy(out.Data, m.Data)
	return out
}

// Count returns the number of set voxels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Data {
		if b {
			n++
		}
	}
	return n
}

// Foreground returns the flat indices of all set voxels.
func (m *Mask) Foreground() []int {
	idx := make([]int, 0, 256)
	for i, b := range m.Data {
		if b {
			idx = append(idx, i)
		}
	}
	return idx
}

// Intersect returns a new mask set only where both masks are set.
// The masks must share the same grid.
func (m *Mask) Intersect(o *Mask) (*Mask, error) {
	if err := m.Grid.CheckSameAs(o.Grid, "mask intersection"); err != nil {
		return nil, err
	}
	out := NewMask(m.Grid)
	for i := range m.Data {
		out.Data[i] = m.Data[i] && o.Data[i]
	}
	return out, nil
}

// AsVolume returns a float volume with 1 at set voxels and 0 elsewhere.
func (m *Mask) AsVolume() *Volume {
	out := New(m.Grid)
	for i, b := range m.Data {
		if b {
			out.Data[i] = 1
		}
	}
	return out
}
