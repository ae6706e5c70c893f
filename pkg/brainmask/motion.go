package brainmask

import (
	"context"
	"fmt"

	"petpal/internal/models"
	"petpal/pkg/imaging"
)

// Motion target options that reduce the dynamic series itself. Any other
// value is treated as the path to a 3D reference image.
const (
	TargetMeanImage = "mean_image"
	TargetMaxImage  = "max_image"
	TargetSumImage  = "sum_image"
)

// MotionTarget returns the 3D reference frame used as the registration
// target for series
func MotionTarget(ctx context.Context, tk imaging.Toolkit, option string, series *models.Image) (*models.Image, error) {
	switch option {
	case "", TargetMeanImage:
		return imaging.MeanOfTimeseries(series), nil
	case TargetMaxImage:
		return imaging.MaxOfTimeseries(series), nil
	case TargetSumImage:
		return imaging.SumOfTimeseries(series), nil
	}

	target, err := tk.ReadImage(ctx, option)
	if err != nil {
		return nil, fmt.Errorf("motion target %q is neither a known option nor a readable image: %w", option, err)
	}
	if target.Is4D() {
		return nil, fmt.Errorf("motion target %s must be 3D, got %d frames", option, target.Frames())
	}
	return target, nil
}
