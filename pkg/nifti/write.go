package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"petpal/internal/models"
)

// Encode serializes img as a little-endian float32 NIfTI-1 stream with the
// geometry stored in the sform
func Encode(img *models.Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	h := Header{
		SizeOfHdr: headerSize,
		Regular:   'r',
		Datatype:  DTFloat32,
		BitPix:    32,
		VoxOffset: voxOffset,
		SclSlope:  1,
		XYZTUnits: unitsMMSec,
		SFormCode: 1,
		Magic:     magicSingleFile,
	}

	ndim := 3
	if img.Is4D() {
		ndim = 4
	}
	h.Dim[0] = int16(ndim)
	for i := 0; i < 4; i++ {
		if img.Dims[i] > math.MaxInt16 {
			return nil, fmt.Errorf("%w: dimension %d has size %d, the format allows at most %d",
				ErrInvalidHeader, i, img.Dims[i], math.MaxInt16)
		}
		h.Dim[i+1] = int16(img.Dims[i])
	}
	if !img.Is4D() {
		h.Dim[4] = 1
	}
	for i := 5; i < 8; i++ {
		h.Dim[i] = 1
	}

	h.PixDim[0] = 1
	for i := 0; i < 4; i++ {
		h.PixDim[i+1] = float32(img.Spacing[i])
	}

	rows := [3]*[4]float32{&h.SRowX, &h.SRowY, &h.SRowZ}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var d float64
			switch {
			case img.Direction != nil:
				d = img.Direction.At(i, j)
			case i == j:
				d = 1
			}
			rows[i][j] = float32(d * img.Spacing[j])
		}
		rows[i][3] = float32(img.Origin[i])
	}
	copy(h.Descrip[:len(h.Descrip)-1], img.Description)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range img.Data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	h.CalMin, h.CalMax = float32(lo), float32(hi)

	var buf bytes.Buffer
	buf.Grow(voxOffset + 4*len(img.Data))
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	// Empty extension block
	buf.Write([]byte{0, 0, 0, 0})

	vox := make([]byte, 4*len(img.Data))
	for i, v := range img.Data {
		binary.LittleEndian.PutUint32(vox[4*i:], math.Float32bits(float32(v)))
	}
	buf.Write(vox)
	return buf.Bytes(), nil
}

// Write saves img to path, gzip-compressed when the name ends in .gz.
// The file is written next to the destination and renamed into place.
func Write(img *models.Image, path string) error {
	data, err := Encode(img)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".gz") {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("error compressing %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("error compressing %s: %w", path, err)
		}
		data = zbuf.Bytes()
	}

	if err := atomicWriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"path": path,
		"dims": img.Dims,
	}).Debug("Wrote nifti1 image")
	return nil
}

// atomicWriteFile writes content to a temp file in the destination directory
// and renames it over path
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
