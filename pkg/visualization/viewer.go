// Package visualization renders quality-control snapshots of PET volumes and
// brain masks as JPEG slices.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"petpal/internal/models"
)

// Viewer extracts 2D slices from one frame of an image
type Viewer struct {
	// volume holds the 3D voxel data of the selected frame
	volume []float64

	// dimensions of the volume
	width  int
	height int
	depth  int

	// scale maps voxel values to [0, 1]
	scale float64

	// mask is drawn on top of the slices when set
	mask []float64
}

// NewViewer creates a viewer for frame t of img
func NewViewer(img *models.Image, t int) (*Viewer, error) {
	if t < 0 || t >= img.Frames() {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", t, img.Frames())
	}
	volume := img.FrameData(t)
	scale := 0.0
	if len(volume) > 0 {
		if peak := floats.Max(volume); peak > 0 {
			scale = 1 / peak
		}
	}
	return &Viewer{
		volume: volume,
		width:  img.Dims[0],
		height: img.Dims[1],
		depth:  img.Dims[2],
		scale:  scale,
	}, nil
}

// Overlay sets a 3D mask to be drawn over extracted slices
func (v *Viewer) Overlay(mask *models.Image) error {
	if mask.Dims[0] != v.width || mask.Dims[1] != v.height || mask.Dims[2] != v.depth {
		return fmt.Errorf("mask grid %v does not match volume %dx%dx%d",
			mask.Dims[:3], v.width, v.height, v.depth)
	}
	v.mask = mask.FrameData(0)
	return nil
}

func (v *Viewer) axisLength(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.width, nil
	case "y", "Y":
		return v.height, nil
	case "z", "Z":
		return v.depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
// Without an overlay the result is Gray16; with one, masked voxels are tinted red.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	n, err := v.axisLength(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d out of range [0, %d) for axis %s", position, n, axis)
	}

	// (cols, rows) of the slice and the voxel index for each pixel
	var cols, rows int
	var index func(c, r int) int
	switch axis {
	case "x", "X":
		cols, rows = v.depth, v.height
		index = func(c, r int) int { return c*v.width*v.height + r*v.width + position }
	case "y", "Y":
		cols, rows = v.width, v.depth
		index = func(c, r int) int { return r*v.width*v.height + position*v.width + c }
	default:
		cols, rows = v.width, v.height
		index = func(c, r int) int { return position*v.width*v.height + r*v.width + c }
	}

	rect := image.Rect(0, 0, cols, rows)
	if v.mask == nil {
		img := image.NewGray16(rect)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				img.SetGray16(c, r, color.Gray16{Y: v.level(index(c, r))})
			}
		}
		return img, nil
	}

	img := image.NewRGBA64(rect)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			idx := index(c, r)
			y := v.level(idx)
			px := color.RGBA64{R: y, G: y, B: y, A: 0xffff}
			if v.mask[idx] != 0 {
				px.R = 0xffff
				px.G = y / 2
				px.B = y / 2
			}
			img.SetRGBA64(c, r, px)
		}
	}
	return img, nil
}

func (v *Viewer) level(idx int) uint16 {
	return uint16(math.Max(0, math.Min(65535, v.volume[idx]*v.scale*65535)))
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

// SaveCentralSlices writes the middle slice along each axis to outputDir
// as <prefix>_<axis>.jpg and returns the written paths.
func (v *Viewer) SaveCentralSlices(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		n, _ := v.axisLength(axis)
		img, err := v.ExtractSlice(axis, n/2)
		if err != nil {
			return paths, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", prefix, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	log.WithFields(log.Fields{"dir": outputDir, "prefix": prefix}).Debug("Saved QC slices")
	return paths, nil
}
