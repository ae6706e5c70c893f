// Package nifti reads and writes single-file NIfTI-1 images (.nii, .nii.gz).
//
// Only what the masking workflow needs is supported: geometry from the
// sform or qform, the common scalar datatypes and linear intensity scaling.
// Header extensions are skipped on read and never written.
package nifti

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Datatype codes from nifti1.h
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

const (
	headerSize = 348
	voxOffset  = 352

	// xyzt_units: millimetres and seconds
	unitsMMSec = 2 | 8
)

var (
	// ErrInvalidHeader is returned for files that are not single-file NIfTI-1
	ErrInvalidHeader = errors.New("invalid nifti1 header")

	// ErrUnsupportedDatatype is returned for voxel types this package cannot decode
	ErrUnsupportedDatatype = errors.New("unsupported nifti1 datatype")
)

var magicSingleFile = [4]byte{'n', '+', '1', 0}

// Header is the on-disk NIfTI-1 header.
//
// Type translation from nifti1.h:
//
//	C     Go
//	-------------
//	int   int32
//	float float32
//	short int16
//	char  byte
type Header struct {
	SizeOfHdr      int32    // Must be 348
	DataTypeUnused [10]byte // Unused
	DbName         [18]byte // Unused
	Extents        int32    // Unused
	SessionError   int16    // Unused
	Regular        byte     // Unused
	DimInfo        byte     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	Datatype      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacings, PixDim[0] is qfac
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     byte       // Slice timing order
	XYZTUnits     byte       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	GlMax         int32      // Unused
	GlMin         int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b param
	QuaternC float32 // Quaternion c param
	QuaternD float32 // Quaternion d param
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // Name or meaning of data

	Magic [4]byte // Must be "n+1\0"
}

// bytesPerVoxel returns the storage size for a datatype code
func bytesPerVoxel(dt int16) (int, bool) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, true
	case DTInt16, DTUint16:
		return 2, true
	case DTInt32, DTUint32, DTFloat32:
		return 4, true
	case DTFloat64:
		return 8, true
	}
	return 0, false
}

// geometry derives spacing, origin and direction from the header, preferring
// the sform, then the qform, then plain pixdim scaling
func (h *Header) geometry() (spacing [3]float64, origin [3]float64, dir *mat.Dense) {
	for i := 0; i < 3; i++ {
		spacing[i] = math.Abs(float64(h.PixDim[i+1]))
		if spacing[i] == 0 {
			spacing[i] = 1
		}
	}

	switch {
	case h.SFormCode > 0:
		rows := [3][4]float32{h.SRowX, h.SRowY, h.SRowZ}
		dir = mat.NewDense(3, 3, nil)
		for j := 0; j < 3; j++ {
			col := [3]float64{float64(rows[0][j]), float64(rows[1][j]), float64(rows[2][j])}
			norm := math.Sqrt(col[0]*col[0] + col[1]*col[1] + col[2]*col[2])
			if norm == 0 {
				norm = 1
			}
			spacing[j] = norm
			for i := 0; i < 3; i++ {
				dir.Set(i, j, col[i]/norm)
			}
		}
		for i := 0; i < 3; i++ {
			origin[i] = float64(rows[i][3])
		}

	case h.QFormCode > 0:
		dir = quaternionToMatrix(float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD))
		qfac := float64(h.PixDim[0])
		if qfac == 0 {
			qfac = 1
		}
		if qfac < 0 {
			for i := 0; i < 3; i++ {
				dir.Set(i, 2, -dir.At(i, 2))
			}
		}
		origin = [3]float64{float64(h.QOffsetX), float64(h.QOffsetY), float64(h.QOffsetZ)}

	default:
		dir = mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		})
	}
	return spacing, origin, dir
}

// quaternionToMatrix builds the rotation matrix of a unit quaternion whose
// real part is implied by b, c and d
func quaternionToMatrix(b, c, d float64) *mat.Dense {
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d = b/n, c/n, d/n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	return mat.NewDense(3, 3, []float64{
		a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c),
		2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b),
		2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b,
	})
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
