// Package imaging defines the image processing collaborator used by the
// masking workflows and the voxel operations that run in process.
//
// Reading, writing and masking are served locally. Registration and
// transform application are delegated to a Registrar.
package imaging

import (
	"context"
	"errors"
	"fmt"

	"petpal/internal/models"
	"petpal/pkg/nifti"
)

// TransformKind selects the registration model
type TransformKind string

const (
	TransformSyN    TransformKind = "SyN"
	TransformAffine TransformKind = "Affine"
	TransformRigid  TransformKind = "Rigid"
)

// Interpolator selects how a moving image is resampled
type Interpolator string

const (
	InterpNearestNeighbor Interpolator = "nearestNeighbor"
	InterpLinear          Interpolator = "linear"
	InterpGenericLabel    Interpolator = "genericLabel"
)

// ErrNoRegistrar is returned by Local when registration is requested
// without a configured Registrar
var ErrNoRegistrar = errors.New("no registrar configured")

// TransformResult lists the transform files produced by a registration.
// Forward transforms map moving to fixed; inverse transforms map fixed to moving.
type TransformResult struct {
	FwdTransforms []string
	InvTransforms []string
}

// Toolkit is the narrow image processing interface the workflows depend on
type Toolkit interface {
	ReadImage(ctx context.Context, path string) (*models.Image, error)
	WriteImage(ctx context.Context, img *models.Image, path string) error
	Register(ctx context.Context, fixed, moving *models.Image, kind TransformKind) (*TransformResult, error)
	ApplyTransforms(ctx context.Context, fixed, moving *models.Image, transforms []string, interp Interpolator) (*models.Image, error)
	Mask(ctx context.Context, img, mask *models.Image) (*models.Image, error)
}

// Registrar computes and applies spatial transforms
type Registrar interface {
	Register(ctx context.Context, fixed, moving *models.Image, kind TransformKind) (*TransformResult, error)
	ApplyTransforms(ctx context.Context, fixed, moving *models.Image, transforms []string, interp Interpolator) (*models.Image, error)
}

// Local implements Toolkit with NIfTI file I/O and in-process masking
type Local struct {
	Registrar Registrar
}

// NewLocal creates a Local toolkit delegating registration to r
func NewLocal(r Registrar) *Local {
	return &Local{Registrar: r}
}

// ReadImage loads a NIfTI image
func (l *Local) ReadImage(ctx context.Context, path string) (*models.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nifti.Read(path)
}

// WriteImage saves a NIfTI image
func (l *Local) WriteImage(ctx context.Context, img *models.Image, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nifti.Write(img, path)
}

// Register delegates to the configured Registrar
func (l *Local) Register(ctx context.Context, fixed, moving *models.Image, kind TransformKind) (*TransformResult, error) {
	if l.Registrar == nil {
		return nil, ErrNoRegistrar
	}
	return l.Registrar.Register(ctx, fixed, moving, kind)
}

// ApplyTransforms delegates to the configured Registrar
func (l *Local) ApplyTransforms(ctx context.Context, fixed, moving *models.Image, transforms []string, interp Interpolator) (*models.Image, error) {
	if l.Registrar == nil {
		return nil, ErrNoRegistrar
	}
	if len(transforms) == 0 {
		return nil, fmt.Errorf("no transforms to apply")
	}
	return l.Registrar.ApplyTransforms(ctx, fixed, moving, transforms, interp)
}

// Mask zeroes voxels of img outside mask
func (l *Local) Mask(ctx context.Context, img, mask *models.Image) (*models.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ApplyMask(img, mask)
}
