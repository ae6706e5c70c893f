package imaging

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"petpal/internal/models"
)

// createSeries builds a 2x2x1 series whose voxel i in frame t holds (t+1)*(i+1)
func createSeries(frames int) *models.Image {
	img := models.NewImage(2, 2, 1, frames)
	for t := 0; t < frames; t++ {
		for i := 0; i < 4; i++ {
			img.Data[t*4+i] = float64((t + 1) * (i + 1))
		}
	}
	return img
}

func TestTimeseriesReductions(t *testing.T) {
	series := createSeries(3)

	sum := SumOfTimeseries(series)
	mean := MeanOfTimeseries(series)
	peak := MaxOfTimeseries(series)

	for i := 0; i < 4; i++ {
		v := float64(i + 1)
		if sum.Data[i] != 6*v {
			t.Errorf("Sum voxel %d: expected %f, got %f", i, 6*v, sum.Data[i])
		}
		if math.Abs(mean.Data[i]-2*v) > 1e-12 {
			t.Errorf("Mean voxel %d: expected %f, got %f", i, 2*v, mean.Data[i])
		}
		if peak.Data[i] != 3*v {
			t.Errorf("Max voxel %d: expected %f, got %f", i, 3*v, peak.Data[i])
		}
	}
	if mean.Frames() != 1 || mean.Dims[3] != 1 {
		t.Errorf("Expected 3D result, got dims %v", mean.Dims)
	}
}

func TestFrame(t *testing.T) {
	series := createSeries(2)

	f, err := Frame(series, 1)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}
	if f.Data[3] != 8 {
		t.Errorf("Expected 8, got %f", f.Data[3])
	}

	// The extracted frame must not alias the series
	f.Data[0] = -1
	if series.Data[4] == -1 {
		t.Error("Frame shares storage with the series")
	}

	if _, err := Frame(series, 2); !errors.Is(err, ErrFrameOutOfRange) {
		t.Errorf("Expected ErrFrameOutOfRange, got %v", err)
	}
}

func TestBinaryMask(t *testing.T) {
	img := models.NewImage(4, 1, 1, 1)
	copy(img.Data, []float64{0, 0, 1, 1})

	mask := BinaryMask(img)
	want := []float64{0, 0, 1, 1}
	for i := range want {
		if mask.Data[i] != want[i] {
			t.Errorf("Expected mask %v, got %v", want, mask.Data)
			break
		}
	}

	// Mean of {1,2,3,10} is 4, so only the last voxel survives
	copy(img.Data, []float64{1, 2, 3, 10})
	mask = BinaryMask(img)
	if mask.Data[3] != 1 || mask.Data[2] != 0 {
		t.Errorf("Expected only voxel 3 selected, got %v", mask.Data)
	}

	// A warp that missed the field of view selects nothing
	mask = BinaryMask(models.NewImage(4, 1, 1, 1))
	for _, v := range mask.Data {
		if v != 0 {
			t.Errorf("Expected empty mask for zero image, got %v", mask.Data)
			break
		}
	}
}

func TestThresholdKeepsFrames(t *testing.T) {
	th := Threshold(createSeries(2), 4, 6)
	if th.Frames() != 2 {
		t.Fatalf("Expected 2 frames, got %d", th.Frames())
	}
	want := []float64{0, 0, 0, 1, 0, 1, 1, 0}
	for i := range want {
		if th.Data[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, th.Data)
			break
		}
	}
}

func TestApplyMask(t *testing.T) {
	series := createSeries(2)
	mask := models.NewImage(2, 2, 1, 1)
	mask.Data[1] = 1
	mask.Data[2] = 1

	out, err := ApplyMask(series, mask)
	if err != nil {
		t.Fatalf("ApplyMask failed: %v", err)
	}
	want := []float64{0, 2, 3, 0, 0, 4, 6, 0}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, out.Data)
			break
		}
	}
	if out.Frames() != 2 {
		t.Errorf("Expected masked series to keep 2 frames, got %d", out.Frames())
	}
}

func TestApplyMaskRequiresSameSpace(t *testing.T) {
	series := createSeries(1)

	shifted := models.NewImage(2, 2, 1, 1)
	shifted.Origin[0] = 5
	if _, err := ApplyMask(series, shifted); !errors.Is(err, ErrPhysicalSpaceMismatch) {
		t.Errorf("Expected ErrPhysicalSpaceMismatch for shifted origin, got %v", err)
	}

	resized := models.NewImage(3, 2, 1, 1)
	if _, err := ApplyMask(series, resized); !errors.Is(err, ErrPhysicalSpaceMismatch) {
		t.Errorf("Expected ErrPhysicalSpaceMismatch for different dims, got %v", err)
	}

	rotated := models.NewImage(2, 2, 1, 1)
	rotated.Direction.Set(0, 0, -1)
	if SamePhysicalSpace(series, rotated, SpaceTolerance) {
		t.Error("Expected different directions to be detected")
	}

	fourD := models.NewImage(2, 2, 1, 2)
	if _, err := ApplyMask(series, fourD); err == nil {
		t.Error("Expected error for 4D mask, got nil")
	}
}

func TestMaskedFrameMeans(t *testing.T) {
	series := createSeries(2)
	mask := models.NewImage(2, 2, 1, 1)
	mask.Data[0] = 1
	mask.Data[3] = 1

	means, n, err := MaskedFrameMeans(series, mask)
	if err != nil {
		t.Fatalf("MaskedFrameMeans failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 voxels, got %d", n)
	}
	if means[0] != 2.5 || means[1] != 5 {
		t.Errorf("Expected [2.5 5], got %v", means)
	}

	empty := models.NewImage(2, 2, 1, 1)
	if _, _, err := MaskedFrameMeans(series, empty); !errors.Is(err, ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask, got %v", err)
	}
}

func TestLocalToolkit(t *testing.T) {
	ctx := context.Background()
	tk := NewLocal(nil)

	path := filepath.Join(t.TempDir(), "series.nii.gz")
	if err := tk.WriteImage(ctx, createSeries(2), path); err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}
	img, err := tk.ReadImage(ctx, path)
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	if img.Frames() != 2 {
		t.Errorf("Expected 2 frames, got %d", img.Frames())
	}

	if _, err := tk.Register(ctx, img, img, TransformSyN); !errors.Is(err, ErrNoRegistrar) {
		t.Errorf("Expected ErrNoRegistrar, got %v", err)
	}
	if _, err := tk.ApplyTransforms(ctx, img, img, []string{"x.mat"}, InterpLinear); !errors.Is(err, ErrNoRegistrar) {
		t.Errorf("Expected ErrNoRegistrar, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := tk.ReadImage(cancelled, path); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
