// Package tac extracts time-activity curves from dynamic PET images
package tac

import (
	"fmt"

	"petpal/internal/models"
	"petpal/pkg/imaging"
	"petpal/pkg/table"
)

// Column names of an extracted curve
const (
	ColumnFrameStart   = "frame_start"
	ColumnMeanActivity = "mean_activity"
	ColumnVoxels       = "voxels"
)

// Extract computes the mean activity inside mask for every frame of series.
// frameStarts gives the start time of each frame; when empty the frame
// starts are derived from the frame duration in the image spacing.
func Extract(series, mask *models.Image, frameStarts []float64) (*table.Dataset, error) {
	n := series.Frames()
	if len(frameStarts) == 0 {
		frameStarts = make([]float64, n)
		for t := range frameStarts {
			frameStarts[t] = float64(t) * series.Spacing[3]
		}
	}
	if len(frameStarts) != n {
		return nil, fmt.Errorf("got %d frame start times for %d frames", len(frameStarts), n)
	}

	means, voxels, err := imaging.MaskedFrameMeans(series, mask)
	if err != nil {
		return nil, err
	}

	ds := table.NewDataset(ColumnFrameStart, ColumnMeanActivity, ColumnVoxels)
	for t := 0; t < n; t++ {
		err := ds.AddRow(t, map[string]any{
			ColumnFrameStart:   frameStarts[t],
			ColumnMeanActivity: means[t],
			ColumnVoxels:       voxels,
		})
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}
