package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"segwizard/internal/logger"
	"segwizard/pkg/clipper"
	"segwizard/pkg/config"
	"segwizard/pkg/roi"
	"segwizard/pkg/stl"
	"segwizard/pkg/surface"
	"segwizard/pkg/visualization"
	"segwizard/pkg/volumeio"
)

type options struct {
	volume     string
	landmarks  string
	outputDir  string
	configPath string
	initConfig bool
	clipInside bool
	fill       float64
	stlPath    string
	labelSTL   string
	slicesDir  string
	logLevel   string
	logFile    string
}

func main() {
	// Parse command line arguments
	var opts options
	flag.StringVar(&opts.volume, "volume", "", "Volume header (YAML) of the baseline image")
	flag.StringVar(&opts.landmarks, "landmarks", "", "Landmark file (YAML) outlining the region")
	flag.StringVar(&opts.outputDir, "out", ".", "Directory for the cropped volume and label")
	flag.StringVar(&opts.configPath, "config", "segwizard.yaml", "Configuration file")
	flag.BoolVar(&opts.initConfig, "init-config", false, "Write a default configuration file and exit")
	flag.BoolVar(&opts.clipInside, "clip-inside", false, "Fill the inside of the region instead of the outside")
	flag.Float64Var(&opts.fill, "fill", 0, "Fill value (default: one below the volume minimum)")
	flag.StringVar(&opts.stlPath, "stl", "", "Write the clipping surface to this STL file")
	flag.StringVar(&opts.labelSTL, "label-stl", "", "Write the label boundary to this STL file")
	flag.StringVar(&opts.slicesDir, "slices", "", "Write JPEG review slices of the cropped volume to this directory")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.logFile, "log-file", "", "Log file path (rotated)")
	flag.Parse()

	if opts.initConfig {
		if err := config.CreateDefaultConfigFile(opts.configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", opts.configPath)
		return
	}

	// Validate inputs
	if opts.volume == "" || opts.landmarks == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, &opts)

	if err := logger.InitWithFileConfig(cfg.Logging.Level, logger.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
	}, true); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, &opts); err != nil {
		logger.Log.Error("segmentation failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// applyFlags lets explicitly set flags override the configuration file.
func applyFlags(cfg *config.Config, opts *options) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "clip-inside":
			cfg.Clip.ClipOutside = !opts.clipInside
		case "fill":
			fill := opts.fill
			cfg.Clip.FillValue = &fill
		case "stl":
			cfg.Output.SaveSTL = opts.stlPath != ""
		case "label-stl":
			cfg.Output.SaveLabelSTL = opts.labelSTL != ""
		case "slices":
			cfg.Output.SaveSlices = opts.slicesDir != ""
		case "log-level":
			cfg.Logging.Level = opts.logLevel
		case "log-file":
			cfg.Logging.File = opts.logFile
		}
	})
	if cfg.Output.SaveSTL && opts.stlPath == "" {
		opts.stlPath = filepath.Join(opts.outputDir, "roi_surface.stl")
	}
	if cfg.Output.SaveLabelSTL && opts.labelSTL == "" {
		opts.labelSTL = filepath.Join(opts.outputDir, "roi_label.stl")
	}
	if cfg.Output.SaveSlices && opts.slicesDir == "" {
		opts.slicesDir = filepath.Join(opts.outputDir, "slices")
	}
}

func run(cfg *config.Config, opts *options) error {
	log := logger.Named("cli")
	startTime := time.Now()

	baseline, err := volumeio.LoadVolume(opts.volume)
	if err != nil {
		return err
	}
	landmarks, err := volumeio.LoadLandmarks(opts.landmarks)
	if err != nil {
		return err
	}
	if landmarks.Name == "" {
		landmarks.Name = "ROI 1"
	}
	log.Info("loaded inputs",
		zap.String("volume", baseline.Name),
		zap.Ints("dims", baseline.Dims[:]),
		zap.Int("landmarks", landmarks.Len()))

	session := roi.NewSession(&surface.Builder{
		MinPoints:          cfg.Surface.MinPoints,
		Subdivisions:       cfg.Surface.Subdivisions,
		DuplicateTolerance: cfg.Surface.DuplicateTolerance,
	})
	id := session.AddROI(landmarks.Name)
	built, err := session.SetLandmarks(id, landmarks.Points())
	if err != nil {
		return err
	}
	for _, w := range built.Warnings {
		logger.Sugar.Warnf("%s: %s", landmarks.Name, w)
	}
	if built.Status != surface.StatusBuilt {
		if built.Err != nil {
			return fmt.Errorf("no clipping surface (%s): %w", built.Status, built.Err)
		}
		return fmt.Errorf("no clipping surface (%s): %d landmarks, need at least %d",
			built.Status, landmarks.Len(), cfg.Surface.MinPoints)
	}
	style := *built.Surface.Display
	copy(style.Color[:], cfg.Display.SurfaceColor)
	style.Opacity = cfg.Display.SurfaceOpacity
	if err := session.SetSurfaceDisplay(id, style); err != nil {
		return err
	}
	region, err := session.Get(id)
	if err != nil {
		return err
	}
	surf := region.Surface

	clipOpts := clipper.Options{ClipOutside: cfg.Clip.ClipOutside, FillValue: clipper.DefaultFillValue(baseline)}
	if cfg.Clip.FillValue != nil {
		clipOpts.FillValue = *cfg.Clip.FillValue
	}
	crop, err := session.ClipPrimaryWith(baseline, nil, clipOpts)
	if err != nil {
		return err
	}
	if crop.Clip.FillInRange {
		logger.Sugar.Warnf("fill value %g lies inside the intensity range of %s", crop.FillValue, baseline.Name)
	}

	croppedPath, err := volumeio.SaveVolume(opts.outputDir, crop.Output.Name, crop.Output)
	if err != nil {
		return err
	}
	labelPath, err := volumeio.SaveVolume(opts.outputDir, crop.Label.Name, crop.Label)
	if err != nil {
		return err
	}

	if opts.stlPath != "" {
		if err := stl.SaveToSTL(opts.stlPath, stl.FromSurface(surf)); err != nil {
			return err
		}
		logger.Sugar.Infof("clipping surface saved to %s", opts.stlPath)
	}
	if opts.labelSTL != "" {
		if err := stl.SaveToSTL(opts.labelSTL, stl.FromLabel(crop.Label)); err != nil {
			return err
		}
		logger.Sugar.Infof("label boundary saved to %s", opts.labelSTL)
	}
	if opts.slicesDir != "" {
		viewer := visualization.NewViewer(crop.Output)
		if err := viewer.SetWindow(crop.ThresholdMin, crop.ThresholdMax); err != nil {
			log.Warn("keeping default slice window", zap.Error(err))
		}
		n, err := viewer.SaveSliceSequence(cfg.Output.SliceAxis, opts.slicesDir)
		if err != nil {
			log.Warn("failed to save review slices", zap.Error(err), zap.Int("saved", n))
		} else {
			logger.Sugar.Infof("saved %d %s slices to %s", n, cfg.Output.SliceAxis, opts.slicesDir)
		}
	}

	summary := clipper.Summarize(crop.Output, crop.FillValue)
	fmt.Printf("\nCropping completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Surface: %d vertices, %d triangles, %.1f mm^3 enclosed\n",
		surf.VertexCount(), surf.TriangleCount(), surf.EnclosedVolume())
	fmt.Printf("Cropped volume: %s\n", croppedPath)
	fmt.Printf("Label volume:   %s\n", labelPath)
	fmt.Printf("Voxels kept: %d, filled: %d (fill value %g)\n", summary.Kept, summary.Filled, crop.FillValue)
	if summary.Kept > 0 {
		fmt.Printf("Kept intensities: min %.2f, max %.2f, mean %.2f, std dev %.2f\n",
			summary.Min, summary.Max, summary.Mean, summary.StdDev)
	}
	fmt.Printf("Initial threshold range: [%g, %g]\n", crop.ThresholdMin, crop.ThresholdMax)
	return nil
}
