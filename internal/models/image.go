package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Image represents a 3D volume or a 4D time series of volumes together with
// its physical space
type Image struct {
	// Dims holds the grid size along x, y, z and time. T is 1 for 3D images.
	Dims [4]int

	// Spacing is the voxel size in mm along x, y, z and the frame duration
	Spacing [4]float64

	// Origin is the physical position of voxel (0,0,0) in mm
	Origin [3]float64

	// Direction is the 3x3 orientation matrix; columns are the axis directions
	Direction *mat.Dense

	// Data holds voxel values with x varying fastest and frames contiguous
	Data []float64

	// Description is free text carried in the file header
	Description string

	// Path is the file the image was read from, empty for derived images
	Path string
}

// NewImage allocates a zero-filled image with identity direction and unit spacing
func NewImage(nx, ny, nz, nt int) *Image {
	if nt < 1 {
		nt = 1
	}
	return &Image{
		Dims:      [4]int{nx, ny, nz, nt},
		Spacing:   [4]float64{1, 1, 1, 1},
		Direction: Identity(),
		Data:      make([]float64, nx*ny*nz*nt),
	}
}

// Identity returns a 3x3 identity direction matrix
func Identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
}

// FrameSize is the number of voxels in a single 3D frame
func (img *Image) FrameSize() int {
	return img.Dims[0] * img.Dims[1] * img.Dims[2]
}

// Frames is the number of time frames
func (img *Image) Frames() int {
	if img.Dims[3] < 1 {
		return 1
	}
	return img.Dims[3]
}

// Is4D reports whether the image carries more than one frame
func (img *Image) Is4D() bool {
	return img.Frames() > 1
}

// Index returns the offset of voxel (x, y, z, t) in Data
func (img *Image) Index(x, y, z, t int) int {
	return t*img.FrameSize() + z*img.Dims[0]*img.Dims[1] + y*img.Dims[0] + x
}

// At returns the voxel value at (x, y, z, t)
func (img *Image) At(x, y, z, t int) float64 {
	return img.Data[img.Index(x, y, z, t)]
}

// Set assigns the voxel value at (x, y, z, t)
func (img *Image) Set(x, y, z, t int, v float64) {
	img.Data[img.Index(x, y, z, t)] = v
}

// FrameData returns the voxels of frame t without copying
func (img *Image) FrameData(t int) []float64 {
	n := img.FrameSize()
	return img.Data[t*n : (t+1)*n]
}

// Validate checks that Data matches Dims
func (img *Image) Validate() error {
	for i, d := range img.Dims[:3] {
		if d <= 0 {
			return fmt.Errorf("dimension %d must be positive, got %d", i, d)
		}
	}
	if want := img.FrameSize() * img.Frames(); len(img.Data) != want {
		return fmt.Errorf("expected %d voxels for dims %v, got %d", want, img.Dims, len(img.Data))
	}
	return nil
}

// WithData returns an image sharing the geometry of img with new voxel data
// and the given number of frames. The direction matrix is copied.
func (img *Image) WithData(data []float64, frames int) *Image {
	out := &Image{
		Dims:        img.Dims,
		Spacing:     img.Spacing,
		Origin:      img.Origin,
		Data:        data,
		Description: img.Description,
	}
	out.Dims[3] = frames
	if img.Direction != nil {
		out.Direction = mat.DenseCopyOf(img.Direction)
	} else {
		out.Direction = Identity()
	}
	return out
}
