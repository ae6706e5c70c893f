// Package ants computes and applies spatial transforms by running the ANTs
// command line tools. Images without a backing file are staged into a
// per-call work directory before the tools are invoked.
package ants

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"petpal/internal/models"
	"petpal/pkg/imaging"
	"petpal/pkg/nifti"
)

const (
	registrationTool = "antsRegistrationSyNQuick.sh"
	applyTool        = "antsApplyTransforms"
)

// Runner executes an external command
type Runner func(ctx context.Context, name string, args ...string) error

// CommandError reports a failed external command with its captured stderr
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 512 {
		msg = "..." + msg[len(msg)-512:]
	}
	return fmt.Sprintf("%s exited with status %d: %s", filepath.Base(e.Name), e.ExitCode, msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with exec.CommandContext and captures stderr
func ExecRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &CommandError{Name: name, Args: args, ExitCode: exitCode, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Registrar implements imaging.Registrar with the ANTs tools
type Registrar struct {
	binDir  string
	threads int
	workDir string
	run     Runner

	mu   sync.Mutex
	dirs []string
}

// Option configures a Registrar
type Option func(*Registrar)

// WithBinDir sets the directory holding the ANTs executables; empty means PATH
func WithBinDir(dir string) Option {
	return func(r *Registrar) { r.binDir = dir }
}

// WithThreads sets the thread count passed to the registration script
func WithThreads(n int) Option {
	return func(r *Registrar) { r.threads = n }
}

// WithWorkDir sets where per-call work directories are created
func WithWorkDir(dir string) Option {
	return func(r *Registrar) { r.workDir = dir }
}

// WithRunner replaces command execution, mainly for tests
func WithRunner(run Runner) Option {
	return func(r *Registrar) { r.run = run }
}

// NewRegistrar creates a Registrar
func NewRegistrar(opts ...Option) *Registrar {
	r := &Registrar{
		threads: 1,
		workDir: os.TempDir(),
		run:     ExecRunner,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register aligns moving to fixed. The returned transform files stay valid
// until Cleanup is called.
func (r *Registrar) Register(ctx context.Context, fixed, moving *models.Image, kind imaging.TransformKind) (*imaging.TransformResult, error) {
	code, err := transformCode(kind)
	if err != nil {
		return nil, err
	}

	dir, err := r.newWorkDir("reg")
	if err != nil {
		return nil, err
	}
	fixedPath, err := stage(fixed, dir, "fixed.nii.gz")
	if err != nil {
		return nil, err
	}
	movingPath, err := stage(moving, dir, "moving.nii.gz")
	if err != nil {
		return nil, err
	}

	prefix := filepath.Join(dir, "xfm_")
	args := []string{
		"-d", "3",
		"-f", fixedPath,
		"-m", movingPath,
		"-o", prefix,
		"-t", code,
		"-n", strconv.Itoa(r.threads),
	}
	if err := r.exec(ctx, registrationTool, args); err != nil {
		return nil, err
	}

	affine := prefix + "0GenericAffine.mat"
	res := &imaging.TransformResult{
		FwdTransforms: []string{affine},
		InvTransforms: []string{invert(affine)},
	}
	if kind == imaging.TransformSyN {
		res.FwdTransforms = []string{prefix + "1Warp.nii.gz", affine}
		res.InvTransforms = []string{invert(affine), prefix + "1InverseWarp.nii.gz"}
	}
	return res, nil
}

// ApplyTransforms resamples moving into the grid of fixed
func (r *Registrar) ApplyTransforms(ctx context.Context, fixed, moving *models.Image, transforms []string, interp imaging.Interpolator) (*models.Image, error) {
	method, err := interpolationName(interp)
	if err != nil {
		return nil, err
	}

	dir, err := r.newWorkDir("apply")
	if err != nil {
		return nil, err
	}
	fixedPath, err := stage(fixed, dir, "reference.nii.gz")
	if err != nil {
		return nil, err
	}
	movingPath, err := stage(moving, dir, "input.nii.gz")
	if err != nil {
		return nil, err
	}

	out := filepath.Join(dir, "warped.nii.gz")
	args := []string{
		"-d", "3",
		"-i", movingPath,
		"-r", fixedPath,
		"-o", out,
		"-n", method,
	}
	for _, t := range transforms {
		args = append(args, "-t", t)
	}
	if err := r.exec(ctx, applyTool, args); err != nil {
		return nil, err
	}

	return nifti.Read(out)
}

// Cleanup removes every work directory created by this Registrar
func (r *Registrar) Cleanup() error {
	r.mu.Lock()
	dirs := r.dirs
	r.dirs = nil
	r.mu.Unlock()

	var errs []error
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registrar) exec(ctx context.Context, tool string, args []string) error {
	name := tool
	if r.binDir != "" {
		name = filepath.Join(r.binDir, tool)
	}

	log.WithFields(log.Fields{
		"command": tool,
		"args":    strings.Join(args, " "),
	}).Info("Running ANTs command")

	if err := r.run(ctx, name, args...); err != nil {
		return fmt.Errorf("error running %s: %w", tool, err)
	}
	return nil
}

func (r *Registrar) newWorkDir(kind string) (string, error) {
	dir := filepath.Join(r.workDir, kind+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating work directory: %w", err)
	}

	r.mu.Lock()
	r.dirs = append(r.dirs, dir)
	r.mu.Unlock()
	return dir, nil
}

// stage returns a file path for img, writing it into dir when it has none
func stage(img *models.Image, dir, name string) (string, error) {
	if img.Path != "" {
		return img.Path, nil
	}
	path := filepath.Join(dir, name)
	if err := nifti.Write(img, path); err != nil {
		return "", fmt.Errorf("error staging image: %w", err)
	}
	return path, nil
}

// invert marks a transform file for inversion in antsApplyTransforms syntax
func invert(path string) string {
	return "[" + path + ",1]"
}

func transformCode(kind imaging.TransformKind) (string, error) {
	switch kind {
	case imaging.TransformSyN:
		return "s", nil
	case imaging.TransformAffine:
		return "a", nil
	case imaging.TransformRigid:
		return "r", nil
	}
	return "", fmt.Errorf("unsupported transform kind %q", kind)
}

func interpolationName(interp imaging.Interpolator) (string, error) {
	switch interp {
	case imaging.InterpNearestNeighbor:
		return "NearestNeighbor", nil
	case imaging.InterpLinear:
		return "Linear", nil
	case imaging.InterpGenericLabel:
		return "GenericLabel", nil
	}
	return "", fmt.Errorf("unsupported interpolator %q", interp)
}
