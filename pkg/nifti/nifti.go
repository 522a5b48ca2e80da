// Package nifti implements a minimal NIfTI-1 reader and writer covering the
// single-file (.nii / .nii.gz) volumes exchanged by the resection pipeline.
// Only the fields the pipeline needs are interpreted: dimensions, datatype,
// pixel spacing, the sform affine and intensity scaling.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"resector3d/pkg/volume"
)

// NIfTI-1 datatype codes for the types the reader accepts.
const (
	typeUint8   int16 = 2
	typeInt16   int16 = 4
	typeInt32   int16 = 8
	typeFloat32 int16 = 16
	typeFloat64 int16 = 64
)

const headerSize = 348

// header mirrors the 348-byte NIfTI-1 header layout, little endian.
type header struct {
	SizeofHdr      int32
	DataType       [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	Datatype       int16
	Bitpix         int16
	SliceStart     int16
	Pixdim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      byte
	XyztUnits      byte
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	Toffset        float32
	Glmax          int32
	Glmin          int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QformCode      int16
	SformCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QoffsetX       float32
	QoffsetY       float32
	QoffsetZ       float32
	SrowX          [4]float32
	SrowY          [4]float32
	SrowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte
}

// Read loads a NIfTI-1 volume from path, transparently decompressing
// gzipped files. Intensity scaling (scl_slope/scl_inter) is applied; the
// grid geometry comes from pixdim and, when present, the sform affine.
func Read(path string) (*volume.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	vol, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vol, nil
}

// ReadMask loads a NIfTI-1 label volume and binarizes it: voxels above 0.5
// become foreground.
func ReadMask(path string) (*volume.Mask, error) {
	vol, err := Read(path)
	if err != nil {
		return nil, err
	}
	mask := volume.NewMask(vol.Grid)
	for i, v := range vol.Data {
		mask.Data[i] = v > 0.5
	}
	return mask, nil
}

func decode(r io.Reader) (*volume.Volume, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if h.SizeofHdr != headerSize {
		return nil, fmt.Errorf("not a NIfTI-1 file: sizeof_hdr = %d", h.SizeofHdr)
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("unsupported magic %q: only single-file NIfTI-1 is handled", h.Magic[:3])
	}
	if h.Dim[0] < 3 || h.Dim[0] > 7 {
		return nil, fmt.Errorf("expected a 3D volume, got %d dimensions", h.Dim[0])
	}
	for d := int16(4); d <= h.Dim[0]; d++ {
		if h.Dim[d] > 1 {
			return nil, fmt.Errorf("expected a single-channel 3D volume, dim[%d] = %d", d, h.Dim[d])
		}
	}

	g := volume.NewGrid(int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3]))
	for i := 0; i < 3; i++ {
		if h.Pixdim[i+1] > 0 {
			g.Spacing[i] = float64(h.Pixdim[i+1])
		}
	}
	if h.SformCode > 0 {
		applySform(&g, &h)
	} else {
		g.Origin = [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	}

	// Skip from the end of the header to the data offset
	offset := int64(h.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	if _, err := io.CopyN(io.Discard, r, offset-headerSize); err != nil {
		return nil, fmt.Errorf("seeking to voxel data: %w", err)
	}

	vol := volume.New(g)
	if err := readVoxels(r, h.Datatype, vol.Data); err != nil {
		return nil, err
	}

	slope := float64(h.SclSlope)
	inter := float64(h.SclInter)
	if slope != 0 && (slope != 1 || inter != 0) {
		for i := range vol.Data {
			vol.Data[i] = vol.Data[i]*slope + inter
		}
	}
	return vol, nil
}

// applySform extracts origin, spacing-normalized direction cosines and
// offsets from the srow affine rows.
func applySform(g *volume.Grid, h *header) {
	rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
	for col := 0; col < 3; col++ {
		norm := math.Sqrt(float64(rows[0][col]*rows[0][col] +
			rows[1][col]*rows[1][col] + rows[2][col]*rows[2][col]))
		if norm == 0 {
			continue
		}
		g.Spacing[col] = norm
		for row := 0; row < 3; row++ {
			g.Direction[row*3+col] = float64(rows[row][col]) / norm
		}
	}
	g.Origin = [3]float64{float64(rows[0][3]), float64(rows[1][3]), float64(rows[2][3])}
}

func readVoxels(r io.Reader, datatype int16, out []float64) error {
	n := len(out)
	switch datatype {
	case typeUint8:
		buf := make([]uint8, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("reading uint8 voxels: %w", err)
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case typeInt16:
		buf := make([]int16, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("reading int16 voxels: %w", err)
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case typeInt32:
		buf := make([]int32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("reading int32 voxels: %w", err)
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case typeFloat32:
		buf := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("reading float32 voxels: %w", err)
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case typeFloat64:
		if err := binary.Read(r, binary.LittleEndian, out); err != nil {
			return fmt.Errorf("reading float64 voxels: %w", err)
		}
	default:
		return fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
	return nil
}

// Write stores the volume as float32 NIfTI-1, gzip-compressed when the path
// ends with .gz.
func Write(path string, vol *volume.Volume) error {
	buf := make([]float32, len(vol.Data))
	for i, v := range vol.Data {
		buf[i] = float32(v)
	}
	return writeFile(path, vol.Grid, typeFloat32, 32, buf)
}

// WriteMask stores the mask as uint8 NIfTI-1 with foreground voxels set
// to 1.
func WriteMask(path string, mask *volume.Mask) error {
	buf := make([]uint8, len(mask.Data))
	for i, b := range mask.Data {
		if b {
			buf[i] = 1
		}
	}
	return writeFile(path, mask.Grid, typeUint8, 8, buf)
}

func writeFile(path string, g volume.Grid, datatype, bitpix int16, voxels any) error {
	h := newHeader(g, datatype, bitpix)

	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	// Four-byte extension flag, all zero
	body.Write([]byte{0, 0, 0, 0})
	if err := binary.Write(&body, binary.LittleEndian, voxels); err != nil {
		return fmt.Errorf("encoding voxels: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finalizing %s: %w", path, err)
		}
	}
	return nil
}

func newHeader(g volume.Grid, datatype, bitpix int16) header {
	h := header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  datatype,
		Bitpix:    bitpix,
		VoxOffset: headerSize + 4,
		SclSlope:  1,
		SformCode: 1,
		QformCode: 0,
		XyztUnits: 2, // millimetres
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim = [8]int16{3, int16(g.Nx), int16(g.Ny), int16(g.Nz), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1,
		float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2]),
		1, 1, 1, 1}
	for col := 0; col < 3; col++ {
		sx := float32(g.Direction[0*3+col] * g.Spacing[col])
		sy := float32(g.Direction[1*3+col] * g.Spacing[col])
		sz := float32(g.Direction[2*3+col] * g.Spacing[col])
		h.SrowX[col] = sx
		h.SrowY[col] = sy
		h.SrowZ[col] = sz
	}
	h.SrowX[3] = float32(g.Origin[0])
	h.SrowY[3] = float32(g.Origin[1])
	h.SrowZ[3] = float32(g.Origin[2])
	copy(h.Descrip[:], "resector3d")
	return h
}
