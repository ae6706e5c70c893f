package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	log "github.com/sirupsen/logrus"

	"petpal/internal/models"
)

// Read loads a .nii or .nii.gz file into an in-memory image
func Read(path string) (*models.Image, error) {
	raw, err := readMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	img, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// ReadHeader decodes only the header of a .nii or .nii.gz file
func ReadHeader(path string) (Header, binary.ByteOrder, error) {
	raw, err := readMaybeGzip(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return decodeHeader(raw)
}

func readMaybeGzip(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		return raw, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// decodeHeader reads the header and infers the byte order from sizeof_hdr
func decodeHeader(b []byte) (Header, binary.ByteOrder, error) {
	if len(b) < headerSize {
		return Header{}, nil, fmt.Errorf("%w: file is %d bytes", ErrInvalidHeader, len(b))
	}

	var h Header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(b), order, &h); err != nil {
		return Header{}, nil, err
	}
	if h.SizeOfHdr != headerSize {
		order = binary.BigEndian
		h = Header{}
		if err := binary.Read(bytes.NewReader(b), order, &h); err != nil {
			return Header{}, nil, err
		}
	}
	if h.SizeOfHdr != headerSize {
		return Header{}, nil, fmt.Errorf("%w: sizeof_hdr is %d", ErrInvalidHeader, h.SizeOfHdr)
	}

	log.WithFields(log.Fields{
		"byteOrder": order,
	}).Debug("Found byte order")

	if err := validateHeader(&h); err != nil {
		return Header{}, nil, err
	}
	return h, order, nil
}

func validateHeader(h *Header) error {
	switch {
	case h.Magic != magicSingleFile:
		return fmt.Errorf("%w: data must be stored in the same file as the header", ErrInvalidHeader)

	case h.Dim[0] < 1 || h.Dim[0] > 7:
		return fmt.Errorf("%w: dim[0] is %d", ErrInvalidHeader, h.Dim[0])
	}

	for i := 5; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] > 1 {
			return fmt.Errorf("%w: dimension %d has size %d, only up to 4D is supported", ErrInvalidHeader, i, h.Dim[i])
		}
	}
	if _, ok := bytesPerVoxel(h.Datatype); !ok {
		return fmt.Errorf("%w: code %d", ErrUnsupportedDatatype, h.Datatype)
	}
	return nil
}

// Decode parses a complete single-file NIfTI-1 byte stream
func Decode(b []byte) (*models.Image, error) {
	h, order, err := decodeHeader(b)
	if err != nil {
		return nil, err
	}

	var dims [4]int
	for i := 0; i < 4; i++ {
		dims[i] = 1
		if i+1 <= int(h.Dim[0]) && h.Dim[i+1] > 0 {
			dims[i] = int(h.Dim[i+1])
		}
	}

	nvox := dims[0] * dims[1] * dims[2] * dims[3]
	bpv, _ := bytesPerVoxel(h.Datatype)
	if math.IsNaN(float64(h.VoxOffset)) || h.VoxOffset > float32(len(b)) {
		return nil, fmt.Errorf("%w: vox_offset %g is beyond the %d byte file",
			ErrInvalidHeader, h.VoxOffset, len(b))
	}
	offset := int(h.VoxOffset)
	if offset < voxOffset {
		offset = voxOffset
	}
	if nvox*bpv > len(b)-offset {
		return nil, fmt.Errorf("%w: expected %d bytes of voxel data at offset %d, file has %d",
			ErrInvalidHeader, nvox*bpv, offset, len(b))
	}

	data, err := decodeVoxels(b[offset:offset+nvox*bpv], h.Datatype, order, nvox)
	if err != nil {
		return nil, err
	}

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !math.IsNaN(slope) && (slope != 1 || inter != 0) {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	spacing, origin, dir := h.geometry()
	frameDur := float64(h.PixDim[4])
	if frameDur == 0 {
		frameDur = 1
	}

	img := &models.Image{
		Dims:        dims,
		Spacing:     [4]float64{spacing[0], spacing[1], spacing[2], frameDur},
		Origin:      origin,
		Direction:   dir,
		Data:        data,
		Description: cString(h.Descrip[:]),
	}

	log.WithFields(log.Fields{
		"dims":     dims,
		"datatype": h.Datatype,
	}).Debug("Decoded nifti1 image")

	return img, nil
}

func decodeVoxels(b []byte, dt int16, order binary.ByteOrder, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch dt {
		case DTUint8:
			out[i] = float64(b[i])
		case DTInt8:
			out[i] = float64(int8(b[i]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(b[2*i:])))
		case DTUint16:
			out[i] = float64(order.Uint16(b[2*i:]))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(b[4*i:])))
		case DTUint32:
			out[i] = float64(order.Uint32(b[4*i:]))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b[4*i:])))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(b[8*i:]))
		default:
			return nil, fmt.Errorf("%w: code %d", ErrUnsupportedDatatype, dt)
		}
	}
	return out, nil
}
