package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"spmglobal/internal/models"
	"spmglobal/pkg/config"
	"spmglobal/pkg/global"
	"spmglobal/pkg/logging"
	"spmglobal/pkg/visualization"
	"spmglobal/pkg/volmap"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("spmglobal: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("spmglobal", flag.ContinueOnError)
	inputPath := fs.String("input", "", "Volume header (YAML) or directory of 2D slices")
	configPath := fs.String("config", "spmglobal.yaml", "Configuration file")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	maskDir := fs.String("mask-dir", "", "Directory to save object masks (overrides config)")
	cacheBudget := fs.Int64("cache", -1, "Slice cache budget in bytes (overrides config)")
	convertPath := fs.String("convert", "", "Write the input volume as a float64 header+raw pair at this path")
	writeConfig := fs.Bool("write-config", false, "Write the default configuration to -config and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Default configuration written to %s\n", *configPath)
		return nil
	}

	if *inputPath == "" {
		fs.Usage()
		return fmt.Errorf("no input volume given")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if *maskDir != "" {
		cfg.Output.MaskDir = *maskDir
	}
	if *cacheBudget >= 0 {
		cfg.Estimation.CacheBudgetBytes = *cacheBudget
	}

	cfg.Log.SetLogger()
	defer logging.Shutdown()
	if cfg.Output.Verbose {
		logging.SetLogMode(logging.DebugMode)
	}

	vol, closeVol, err := openInput(*inputPath)
	if err != nil {
		return err
	}
	defer closeVol()

	d := volmap.Dims(vol)
	fmt.Fprintf(stdout, "Volume: %s (%s voxels, %s as float64)\n",
		d, humanize.Comma(int64(d.Len())), humanize.Bytes(uint64(d.Len())*8))

	if *convertPath != "" {
		if err := convert(vol, *convertPath); err != nil {
			return fmt.Errorf("failed to convert volume: %w", err)
		}
		fmt.Fprintf(stdout, "Volume written to %s\n", *convertPath)
	}

	est, err := global.NewEstimator(cfg.Params())
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := est.Estimate(vol)
	if err != nil {
		return err
	}
	logging.Infof("Global mean of %s computed in %s", *inputPath, time.Since(start))

	fmt.Fprintf(stdout, "Threshold: %g\n", res.Threshold)
	fmt.Fprintf(stdout, "Object voxels: %s of %s (%.1f%%)\n",
		humanize.Comma(int64(res.Count)), humanize.Comma(int64(res.Total)), 100*res.ObjectFraction())
	fmt.Fprintf(stdout, "Global mean: %g\n", res.Mean)

	if cfg.Output.MaskDir != "" {
		viewer := visualization.NewViewer(vol, res.Threshold, 0)
		n, err := viewer.SaveMaskSequence("z", cfg.Output.MaskDir)
		if err != nil {
			return fmt.Errorf("failed to save masks: %w", err)
		}
		fmt.Fprintf(stdout, "Saved %d object masks to %s\n", n, cfg.Output.MaskDir)
	}

	return nil
}

// openInput loads a slice directory or maps a header file.
func openInput(path string) (volmap.Volume, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		vol, err := volmap.LoadSliceStack(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load slices: %w", err)
		}
		return vol, func() {}, nil
	}

	vol, err := volmap.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return vol, func() {
		if err := vol.Close(); err != nil {
			logging.Warningf("failed to close %s: %v", path, err)
		}
	}, nil
}

// convert writes vol as float64 voxels next to a new header.
func convert(vol volmap.Volume, headerPath string) error {
	d := volmap.Dims(vol)
	n := d.SliceLen()
	data := make([]float64, d.Len())
	for z := 0; z < d.NZ; z++ {
		if err := vol.Slice(volmap.SliceTransform(z), data[z*n:(z+1)*n], d.NX, d.NY); err != nil {
			return err
		}
	}

	hdr := models.Header{
		Dims:     [3]int{d.NX, d.NY, d.NZ},
		DataType: models.Float64,
	}
	if mv, ok := vol.(*volmap.MappedVolume); ok {
		hdr.VoxelSize = mv.Header().VoxelSize
	}
	return volmap.Create(headerPath, hdr, data)
}
