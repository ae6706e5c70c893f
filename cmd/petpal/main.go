package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"petpal/pkg/ants"
	"petpal/pkg/brainmask"
	"petpal/pkg/config"
	"petpal/pkg/imaging"
	"petpal/pkg/logging"
	"petpal/pkg/nifti"
	"petpal/pkg/table"
	"petpal/pkg/tac"
	"petpal/pkg/visualization"
)

const defaultConfigPath = "petpal.yaml"

var (
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("petpal failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "petpal",
		Short:         "PET processing and table output utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			level, format := cfg.Output.LogLevel, cfg.Output.LogFormat
			if cfg.Output.Verbose {
				level = "debug"
			}
			if cmd.Flags().Changed("log-level") {
				level = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				format = logFormat
			}
			logging.Setup(level, format)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(
		newBrainMaskCmd(),
		newSegCropCmd(),
		newTACCmd(),
		newCoercePathCmd(),
		newConfigCmd(),
	)
	return root
}

func newBrainMaskCmd() *cobra.Command {
	var p brainmask.Params
	var transform, qcDir string

	cmd := &cobra.Command{
		Use:   "brain-mask",
		Short: "Compute a PET brain mask by registering the motion target to an atlas",
		RunE: func(cmd *cobra.Command, args []string) error {
			if p.AtlasPath == "" {
				p.AtlasPath = cfg.BrainMask.AtlasPath
			}
			if p.AtlasMaskPath == "" {
				p.AtlasMaskPath = cfg.BrainMask.AtlasMaskPath
			}
			if !cmd.Flags().Changed("motion-target") {
				p.MotionTarget = cfg.BrainMask.MotionTarget
			}
			p.Transform = imaging.TransformKind(cfg.BrainMask.Transform)
			if transform != "" {
				p.Transform = imaging.TransformKind(transform)
			}
			if qcDir == "" {
				qcDir = cfg.Output.QCDir
			}

			registrar := newRegistrar()
			defer func() {
				if err := registrar.Cleanup(); err != nil {
					log.WithError(err).Warn("Failed to remove ANTs work directories")
				}
			}()

			start := time.Now()
			res, err := brainmask.Run(cmd.Context(), imaging.NewLocal(registrar), p)
			if err != nil {
				return err
			}
			log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Brain mask completed")

			if qcDir == "" {
				return nil
			}
			viewer, err := visualization.NewViewer(res.Target, 0)
			if err != nil {
				return err
			}
			if err := viewer.Overlay(res.Mask); err != nil {
				return err
			}
			paths, err := viewer.SaveCentralSlices(qcDir, "brain_mask")
			if err != nil {
				return fmt.Errorf("failed to save QC slices: %w", err)
			}
			log.WithField("files", paths).Info("Saved QC slices")
			return nil
		},
	}

	cmd.Flags().StringVar(&p.InputPath, "input", "", "4D PET series (.nii or .nii.gz)")
	cmd.Flags().StringVar(&p.AtlasPath, "atlas", "", "Anatomical atlas image")
	cmd.Flags().StringVar(&p.AtlasMaskPath, "atlas-mask", "", "Brain mask in atlas space")
	cmd.Flags().StringVar(&p.MaskPath, "out", "", "Output brain mask in PET space")
	cmd.Flags().StringVar(&p.MaskedPath, "masked-out", "", "Output masked PET series")
	cmd.Flags().StringVar(&p.MotionTarget, "motion-target", "mean_image", "mean_image, max_image, sum_image or a path to a 3D image")
	cmd.Flags().StringVar(&transform, "transform", "", "Registration type: SyN, Affine or Rigid")
	cmd.Flags().StringVar(&qcDir, "qc-dir", "", "Directory for QC slice snapshots")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newRegistrar() *ants.Registrar {
	opts := []ants.Option{ants.WithBinDir(cfg.ANTs.BinDir)}
	if cfg.ANTs.Threads > 0 {
		opts = append(opts, ants.WithThreads(cfg.ANTs.Threads))
	}
	if cfg.ANTs.WorkDir != "" {
		opts = append(opts, ants.WithWorkDir(cfg.ANTs.WorkDir))
	}
	return ants.NewRegistrar(opts...)
}

func newSegCropCmd() *cobra.Command {
	var petPath, segPath, outPath string

	cmd := &cobra.Command{
		Use:   "seg-crop",
		Short: "Zero a segmentation outside the PET field of view",
		RunE: func(cmd *cobra.Command, args []string) error {
			pet, err := nifti.Read(petPath)
			if err != nil {
				return err
			}
			seg, err := nifti.Read(segPath)
			if err != nil {
				return err
			}
			cropped, err := brainmask.SegCropToPETFOV(pet, seg)
			if err != nil {
				return err
			}
			if err := nifti.Write(cropped, outPath); err != nil {
				return err
			}
			log.WithField("path", outPath).Info("Saved cropped segmentation")
			return nil
		},
	}

	cmd.Flags().StringVar(&petPath, "pet", "", "PET image defining the field of view")
	cmd.Flags().StringVar(&segPath, "seg", "", "Segmentation in PET space")
	cmd.Flags().StringVar(&outPath, "out", "", "Output segmentation")
	for _, name := range []string{"pet", "seg", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newTACCmd() *cobra.Command {
	var inputPath, maskPath, outPath string
	var frameStarts []float64

	cmd := &cobra.Command{
		Use:   "tac",
		Short: "Write the mean activity inside a mask for every frame as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := nifti.Read(inputPath)
			if err != nil {
				return err
			}
			mask, err := nifti.Read(maskPath)
			if err != nil {
				return err
			}
			ds, err := tac.Extract(series, mask, frameStarts)
			if err != nil {
				return err
			}

			saver := table.NewSaver(table.WithSeparators(cfg.TableSeparators()))
			if err := saver.Save(ds, outPath); err != nil {
				return err
			}
			log.WithFields(log.Fields{"path": outPath, "frames": ds.Len()}).Info("Saved time-activity curve")
			return nil
		},
	}

	cmd.Flags().StringVar(&inputPath, "input", "", "4D PET series")
	cmd.Flags().StringVar(&maskPath, "mask", "", "3D mask in PET space")
	cmd.Flags().StringVar(&outPath, "out", "", "Output table (.csv, .tsv or .txt)")
	cmd.Flags().Float64SliceVar(&frameStarts, "frame-times", nil, "Frame start times; defaults to multiples of the frame duration")
	for _, name := range []string{"input", "mask", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newCoercePathCmd() *cobra.Command {
	var ext string

	cmd := &cobra.Command{
		Use:   "coerce-path PATH",
		Short: "Print PATH as an absolute path with its suffixes replaced by --ext",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := table.CoercePath(args[0], ext)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&ext, "ext", ".csv", "Extension to apply")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			path, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})
	return cmd
}
