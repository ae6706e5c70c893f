package imaging

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"petpal/internal/models"
)

// SpaceTolerance is the absolute tolerance used when comparing origins,
// spacings and directions of two images
const SpaceTolerance = 1e-4

var (
	// ErrPhysicalSpaceMismatch is returned when two images that must share a
	// grid do not
	ErrPhysicalSpaceMismatch = errors.New("images are not in the same physical space")

	// ErrEmptyMask is returned when a mask selects no voxel
	ErrEmptyMask = errors.New("mask selects no voxels")

	// ErrFrameOutOfRange is returned when a frame index is outside the series
	ErrFrameOutOfRange = errors.New("frame index out of range")
)

// SamePhysicalSpace reports whether a and b share the 3D grid size, spacing,
// origin and direction within tol
func SamePhysicalSpace(a, b *models.Image, tol float64) bool {
	for i := 0; i < 3; i++ {
		if a.Dims[i] != b.Dims[i] {
			return false
		}
		if math.Abs(a.Spacing[i]-b.Spacing[i]) > tol {
			return false
		}
		if math.Abs(a.Origin[i]-b.Origin[i]) > tol {
			return false
		}
	}
	return mat.EqualApprox(direction(a), direction(b), tol)
}

func direction(img *models.Image) mat.Matrix {
	if img.Direction == nil {
		return models.Identity()
	}
	return img.Direction
}

// checkSpace returns ErrPhysicalSpaceMismatch with details when a and b differ
func checkSpace(a, b *models.Image) error {
	if SamePhysicalSpace(a, b, SpaceTolerance) {
		return nil
	}
	return fmt.Errorf("%w: dims %v vs %v, spacing %v vs %v, origin %v vs %v",
		ErrPhysicalSpaceMismatch, a.Dims[:3], b.Dims[:3], a.Spacing[:3], b.Spacing[:3], a.Origin, b.Origin)
}

// SumOfTimeseries adds all frames of a series into a 3D image
func SumOfTimeseries(img *models.Image) *models.Image {
	sum := make([]float64, img.FrameSize())
	for t := 0; t < img.Frames(); t++ {
		floats.Add(sum, img.FrameData(t))
	}
	return img.WithData(sum, 1)
}

// MeanOfTimeseries averages all frames of a series into a 3D image
func MeanOfTimeseries(img *models.Image) *models.Image {
	out := SumOfTimeseries(img)
	floats.Scale(1/float64(img.Frames()), out.Data)
	return out
}

// MaxOfTimeseries takes the voxelwise maximum over all frames
func MaxOfTimeseries(img *models.Image) *models.Image {
	peak := make([]float64, img.FrameSize())
	copy(peak, img.FrameData(0))
	for t := 1; t < img.Frames(); t++ {
		for i, v := range img.FrameData(t) {
			if v > peak[i] {
				peak[i] = v
			}
		}
	}
	return img.WithData(peak, 1)
}

// Frame extracts frame t of a series as a 3D image
func Frame(img *models.Image, t int) (*models.Image, error) {
	if t < 0 || t >= img.Frames() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrFrameOutOfRange, t, img.Frames())
	}
	data := make([]float64, img.FrameSize())
	copy(data, img.FrameData(t))
	return img.WithData(data, 1), nil
}

// Threshold returns a binary image with 1 where low <= v <= high
func Threshold(img *models.Image, low, high float64) *models.Image {
	out := make([]float64, len(img.Data))
	for i, v := range img.Data {
		if v >= low && v <= high {
			out[i] = 1
		}
	}
	return img.WithData(out, img.Frames())
}

// BinaryMask derives a mask from img by keeping voxels at or above the image
// mean. No morphological cleanup is applied. An image with no positive voxel
// yields an empty mask.
func BinaryMask(img *models.Image) *models.Image {
	if len(img.Data) == 0 {
		return img.WithData(nil, img.Frames())
	}
	peak := floats.Max(img.Data)
	if peak <= 0 {
		return img.WithData(make([]float64, len(img.Data)), img.Frames())
	}
	return Threshold(img, stat.Mean(img.Data, nil), peak)
}

// ApplyMask zeroes every voxel of img outside mask. 4D images are masked
// frame by frame with the same 3D mask. Both images must share a physical space.
func ApplyMask(img, mask *models.Image) (*models.Image, error) {
	if err := checkSpace(img, mask); err != nil {
		return nil, err
	}
	if mask.Is4D() {
		return nil, fmt.Errorf("mask must be 3D, got %d frames", mask.Frames())
	}

	weights := mask.FrameData(0)
	out := make([]float64, len(img.Data))
	for t := 0; t < img.Frames(); t++ {
		src := img.FrameData(t)
		dst := out[t*img.FrameSize() : (t+1)*img.FrameSize()]
		for i, w := range weights {
			if w != 0 {
				dst[i] = src[i]
			}
		}
	}
	return img.WithData(out, img.Frames()), nil
}

// MaskedFrameMeans returns the mean value inside mask for every frame of img
// and the number of voxels the mask selects
func MaskedFrameMeans(img, mask *models.Image) ([]float64, int, error) {
	if err := checkSpace(img, mask); err != nil {
		return nil, 0, err
	}

	var idx []int
	for i, w := range mask.FrameData(0) {
		if w != 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, 0, ErrEmptyMask
	}

	means := make([]float64, img.Frames())
	values := make([]float64, len(idx))
	for t := range means {
		frame := img.FrameData(t)
		for k, i := range idx {
			values[k] = frame[i]
		}
		means[t] = stat.Mean(values, nil)
	}
	return means, len(idx), nil
}
