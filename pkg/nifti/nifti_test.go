package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"petpal/internal/models"
)

// createTestSeries builds a small 4D image with oblique geometry
func createTestSeries() *models.Image {
	img := models.NewImage(4, 3, 2, 3)
	img.Spacing = [4]float64{2, 2.5, 3, 60}
	img.Origin = [3]float64{-90, -126, -72}
	img.Direction = mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	img.Description = "dynamic PET"
	for i := range img.Data {
		img.Data[i] = float64(i) * 0.5
	}
	return img
}

// TestWriteReadRoundTrip verifies geometry and voxels survive a round trip
func TestWriteReadRoundTrip(t *testing.T) {
	for _, name := range []string{"series.nii", "series.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			img := createTestSeries()
			path := filepath.Join(t.TempDir(), name)

			if err := Write(img, path); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := Read(path)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}

			if got.Dims != img.Dims {
				t.Errorf("Expected dims %v, got %v", img.Dims, got.Dims)
			}
			for i := 0; i < 4; i++ {
				if math.Abs(got.Spacing[i]-img.Spacing[i]) > 1e-6 {
					t.Errorf("Expected spacing %v, got %v", img.Spacing, got.Spacing)
					break
				}
			}
			for i := 0; i < 3; i++ {
				if math.Abs(got.Origin[i]-img.Origin[i]) > 1e-4 {
					t.Errorf("Expected origin %v, got %v", img.Origin, got.Origin)
					break
				}
			}
			if !mat.EqualApprox(got.Direction, img.Direction, 1e-6) {
				t.Errorf("Expected direction %v, got %v", mat.Formatted(img.Direction), mat.Formatted(got.Direction))
			}
			if got.Description != "dynamic PET" {
				t.Errorf("Expected description to survive, got %q", got.Description)
			}
			if got.Path != path {
				t.Errorf("Expected path %q, got %q", path, got.Path)
			}
			for i := range img.Data {
				if got.Data[i] != img.Data[i] {
					t.Fatalf("Voxel %d: expected %f, got %f", i, img.Data[i], got.Data[i])
				}
			}
		})
	}
}

// TestWrite3D verifies a single-frame image is written as 3D
// TestEncodeRejectsOversizedDims verifies sizes that do not fit in the header fail
func TestEncodeRejectsOversizedDims(t *testing.T) {
	img := models.NewImage(math.MaxInt16+1, 1, 1, 1)
	if _, err := Encode(img); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "wide.nii")
	if err := Write(img, path); err == nil {
		t.Error("Expected error writing oversized image, got nil")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected no file at %s, got %v", path, err)
	}

	if _, err := Encode(models.NewImage(math.MaxInt16, 1, 1, 1)); err != nil {
		t.Errorf("Expected largest axis size to encode, got %v", err)
	}
}

func TestWrite3D(t *testing.T) {
	img := models.NewImage(2, 2, 2, 1)
	path := filepath.Join(t.TempDir(), "mask.nii")
	if err := Write(img, path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	h, order, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if order != binary.LittleEndian {
		t.Errorf("Expected little endian output, got %v", order)
	}
	if h.Dim[0] != 3 {
		t.Errorf("Expected dim[0] 3, got %d", h.Dim[0])
	}
	if h.SFormCode != 1 || h.Datatype != DTFloat32 {
		t.Errorf("Unexpected header codes: sform %d datatype %d", h.SFormCode, h.Datatype)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the output file, found %d entries", len(entries))
	}
}

// encodeInt16BigEndian builds a big-endian int16 image with scaling and a qform
func encodeInt16BigEndian(t *testing.T) []byte {
	t.Helper()
	h := Header{
		SizeOfHdr: headerSize,
		Datatype:  DTInt16,
		BitPix:    16,
		VoxOffset: voxOffset,
		SclSlope:  2,
		SclInter:  1,
		QFormCode: 1,
		QOffsetX:  10,
		QOffsetY:  20,
		QOffsetZ:  30,
		Magic:     magicSingleFile,
	}
	h.Dim = [8]int16{3, 2, 1, 1, 1, 1, 1, 1}
	h.PixDim = [8]float32{-1, 1.5, 1.5, 2, 0, 0, 0, 0}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &h); err != nil {
		t.Fatalf("Failed to encode header: %v", err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	if err := binary.Write(&buf, binary.BigEndian, []int16{-3, 7}); err != nil {
		t.Fatalf("Failed to encode voxels: %v", err)
	}
	return buf.Bytes()
}

// TestDecodeBigEndianQForm verifies byte order detection, scaling and qform geometry
func TestDecodeBigEndianQForm(t *testing.T) {
	img, err := Decode(encodeInt16BigEndian(t))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if img.Dims != [4]int{2, 1, 1, 1} {
		t.Errorf("Unexpected dims %v", img.Dims)
	}
	if img.Data[0] != -5 || img.Data[1] != 15 {
		t.Errorf("Expected scaled voxels [-5 15], got %v", img.Data)
	}
	if img.Origin != [3]float64{10, 20, 30} {
		t.Errorf("Expected qform origin, got %v", img.Origin)
	}
	// qfac of -1 flips the third axis
	if img.Direction.At(2, 2) != -1 {
		t.Errorf("Expected flipped z direction, got %v", mat.Formatted(img.Direction))
	}
	if img.Spacing[0] != 1.5 || img.Spacing[2] != 2 {
		t.Errorf("Unexpected spacing %v", img.Spacing)
	}
}

// setMaxDims rewrites a big-endian header to the largest 4D grid the format allows
func setMaxDims(b []byte) {
	binary.BigEndian.PutUint16(b[40:], 4)
	for i := 1; i <= 4; i++ {
		binary.BigEndian.PutUint16(b[40+2*i:], math.MaxInt16)
	}
}

func TestDecodeRejectsInvalidFiles(t *testing.T) {
	valid := encodeInt16BigEndian(t)

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "truncated",
			mutate:  func(b []byte) []byte { return b[:100] },
			wantErr: ErrInvalidHeader,
		},
		{
			name: "pairMagic",
			mutate: func(b []byte) []byte {
				copy(b[344:], []byte{'n', 'i', '1', 0})
				return b
			},
			wantErr: ErrInvalidHeader,
		},
		{
			name: "unknownDatatype",
			mutate: func(b []byte) []byte {
				binary.BigEndian.PutUint16(b[70:], 1536)
				return b
			},
			wantErr: ErrUnsupportedDatatype,
		},
		{
			name:    "missingVoxels",
			mutate:  func(b []byte) []byte { return b[:len(b)-2] },
			wantErr: ErrInvalidHeader,
		},
		{
			name: "voxOffsetBeyondFile",
			mutate: func(b []byte) []byte {
				setMaxDims(b)
				binary.BigEndian.PutUint32(b[108:], math.Float32bits(1e30))
				return b
			},
			wantErr: ErrInvalidHeader,
		},
		{
			name: "dimsBeyondFile",
			mutate: func(b []byte) []byte {
				setMaxDims(b)
				return b
			},
			wantErr: ErrInvalidHeader,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.mutate(append([]byte(nil), valid...))
			if _, err := Decode(b); !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.nii"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestQuaternionIdentity(t *testing.T) {
	m := quaternionToMatrix(0, 0, 0)
	if !mat.EqualApprox(m, models.Identity(), 1e-12) {
		t.Errorf("Expected identity, got %v", mat.Formatted(m))
	}
}
