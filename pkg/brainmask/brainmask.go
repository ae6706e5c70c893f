// Package brainmask derives brain masks for dynamic PET images by carrying an
// atlas brain mask into PET space.
//
// The workflow is a fixed sequence of calls against an imaging.Toolkit:
//  1. Read the anatomical atlas and its brain mask
//  2. Read the PET series and compute its motion target
//  3. Register the motion target to the atlas
//  4. Apply the inverse transforms to bring the atlas mask into PET space
//  5. Binarize the resampled mask
//  6. Mask every frame of the PET series
//  7. Optionally write the mask and the masked series
package brainmask

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"petpal/internal/models"
	"petpal/pkg/imaging"
)

// Params holds the inputs and outputs of a brain-mask run
type Params struct {
	// InputPath is the 4D PET series
	InputPath string

	// AtlasPath is the anatomical atlas used as the registration target
	AtlasPath string

	// AtlasMaskPath is the brain mask defined in atlas space
	AtlasMaskPath string

	// MotionTarget selects the PET reference frame: mean_image, max_image,
	// sum_image or a path to a 3D image
	MotionTarget string

	// Transform is the registration model, SyN when empty
	Transform imaging.TransformKind

	// MaskPath receives the brain mask in PET space when set
	MaskPath string

	// MaskedPath receives the masked PET series when set
	MaskedPath string
}

// Result carries the images produced by Run
type Result struct {
	// Target is the motion target used for registration
	Target *models.Image

	// Mask is the binary brain mask in PET space
	Mask *models.Image

	// Masked is the PET series with voxels outside the mask set to zero
	Masked *models.Image

	// Transforms are the registration outputs
	Transforms *imaging.TransformResult
}

// Validate checks that all required inputs are set
func (p *Params) Validate() error {
	var errs []error
	if p.InputPath == "" {
		errs = append(errs, errors.New("input image path is required"))
	}
	if p.AtlasPath == "" {
		errs = append(errs, errors.New("atlas image path is required"))
	}
	if p.AtlasMaskPath == "" {
		errs = append(errs, errors.New("atlas mask path is required"))
	}
	return errors.Join(errs...)
}

// Run executes the brain-mask workflow
func Run(ctx context.Context, tk imaging.Toolkit, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	kind := p.Transform
	if kind == "" {
		kind = imaging.TransformSyN
	}
	logger := log.WithFields(log.Fields{
		"input": p.InputPath,
		"atlas": p.AtlasPath,
	})

	logger.Info("Step 1: Reading atlas and atlas mask...")
	atlas, err := tk.ReadImage(ctx, p.AtlasPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read atlas: %w", err)
	}
	atlasMask, err := tk.ReadImage(ctx, p.AtlasMaskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read atlas mask: %w", err)
	}

	logger.Info("Step 2: Computing motion target...")
	series, err := tk.ReadImage(ctx, p.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input image: %w", err)
	}
	target, err := MotionTarget(ctx, tk, p.MotionTarget, series)
	if err != nil {
		return nil, err
	}

	logger.WithField("transform", kind).Info("Step 3: Registering motion target to atlas...")
	xfm, err := tk.Register(ctx, atlas, target, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to register motion target: %w", err)
	}

	logger.Info("Step 4: Carrying atlas mask into PET space...")
	onPET, err := tk.ApplyTransforms(ctx, target, atlasMask, xfm.InvTransforms, imaging.InterpNearestNeighbor)
	if err != nil {
		return nil, fmt.Errorf("failed to apply inverse transforms: %w", err)
	}

	logger.Info("Step 5: Deriving binary mask...")
	mask := imaging.BinaryMask(onPET)

	logger.Info("Step 6: Masking PET series...")
	masked, err := tk.Mask(ctx, series, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to mask input image: %w", err)
	}

	if p.MaskPath != "" {
		if err := tk.WriteImage(ctx, mask, p.MaskPath); err != nil {
			return nil, fmt.Errorf("failed to write mask: %w", err)
		}
		logger.WithField("path", p.MaskPath).Info("Saved brain mask")
	}
	if p.MaskedPath != "" {
		if err := tk.WriteImage(ctx, masked, p.MaskedPath); err != nil {
			return nil, fmt.Errorf("failed to write masked image: %w", err)
		}
		logger.WithField("path", p.MaskedPath).Info("Saved masked image")
	}

	return &Result{
		Target:     target,
		Mask:       mask,
		Masked:     masked,
		Transforms: xfm,
	}, nil
}
