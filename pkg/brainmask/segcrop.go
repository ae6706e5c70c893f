package brainmask

import (
	"fmt"
	"math"

	"petpal/internal/models"
	"petpal/pkg/imaging"
)

// fovThreshold is the smallest mean activity counted as inside the PET field of view
const fovThreshold = 1e-36

// SegCropToPETFOV zeroes the parts of a segmentation that fall outside the
// PET field of view. Both images must already share a physical space.
func SegCropToPETFOV(pet, seg *models.Image) (*models.Image, error) {
	if !imaging.SamePhysicalSpace(pet, seg, imaging.SpaceTolerance) {
		return nil, fmt.Errorf("segmentation cannot be cropped to PET: %w", imaging.ErrPhysicalSpaceMismatch)
	}

	fov := imaging.Threshold(imaging.MeanOfTimeseries(pet), fovThreshold, math.Inf(1))
	return imaging.ApplyMask(seg, fov)
}
