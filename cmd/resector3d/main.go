package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"resector3d/pkg/config"
	"resector3d/pkg/nifti"
	"resector3d/pkg/resection"
	"resector3d/pkg/sampling"
	"resector3d/pkg/visualization"
	"resector3d/pkg/volume"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Skull-stripped brain image (.nii or .nii.gz)")
	noisePath := flag.String("noise", "", "Noise texture volume (optional; synthesized when omitted)")
	resectableLeft := flag.String("resectable-left", "", "Left resectable hemisphere mask")
	resectableRight := flag.String("resectable-right", "", "Right resectable hemisphere mask")
	grayMatterLeft := flag.String("gray-matter-left", "", "Left gray matter mask")
	grayMatterRight := flag.String("gray-matter-right", "", "Right gray matter mask")
	outputImage := flag.String("output-image", "resected.nii.gz", "Output resected image path")
	outputLabel := flag.String("output-label", "resected_label.nii.gz", "Output cavity label path")
	minVolume := flag.Float64("min-volume", 50, "Minimum cavity volume in mm^3")
	maxVolume := flag.Float64("max-volume", 5000, "Maximum cavity volume in mm^3")
	count := flag.Int("count", 0, "Number of augmented samples to generate (default from config)")
	workers := flag.Int("workers", 0, "Concurrent sample generation limit (default from config)")
	seed := flag.Uint64("seed", 0, "Random seed; 0 seeds from the clock")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	previewDir := flag.String("preview-dir", "", "Directory for QC preview slices (disabled when empty)")
	verbose := flag.Bool("verbose", false, "Print per-stage timing diagnostics")
	flag.Parse()

	// Validate inputs
	required := map[string]string{
		"input":             *inputPath,
		"resectable-left":   *resectableLeft,
		"resectable-right":  *resectableRight,
		"gray-matter-left":  *grayMatterLeft,
		"gray-matter-right": *grayMatterRight,
	}
	for name, val := range required {
		if val == "" {
			fmt.Fprintf(os.Stderr, "missing required flag -%s\n\n", name)
			flag.Usage()
			os.Exit(1)
		}
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg.Resection.VolumesRange = []float64{*minVolume, *maxVolume}
	}
	if *count > 0 {
		cfg.Processing.Count = *count
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *seed != 0 {
		cfg.Processing.Seed = *seed
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("RESECTOR3D: SYNTHETIC BRAIN RESECTION CAVITIES FOR DATA AUGMENTATION")
	fmt.Println("================================")

	// Load the co-registered input volumes
	brain, err := nifti.Read(*inputPath)
	if err != nil {
		log.Fatalf("Failed to load brain image: %v", err)
	}
	masks := make(map[string]*volume.Mask, 4)
	for name, path := range map[string]string{
		"resectable_left":   *resectableLeft,
		"resectable_right":  *resectableRight,
		"gray_matter_left":  *grayMatterLeft,
		"gray_matter_right": *grayMatterRight,
	} {
		m, err := nifti.ReadMask(path)
		if err != nil {
			log.Fatalf("Failed to load %s mask: %v", name, err)
		}
		masks[name] = m
	}

	baseSeed := cfg.Processing.Seed
	if baseSeed == 0 {
		baseSeed = uint64(time.Now().UnixNano())
	}

	var noise *volume.Volume
	if *noisePath != "" {
		noise, err = nifti.Read(*noisePath)
		if err != nil {
			log.Fatalf("Failed to load noise image: %v", err)
		}
	} else {
		fmt.Println("No noise image given, synthesizing Gaussian noise on the image grid...")
		noise = synthesizeNoise(brain, baseSeed)
	}

	transform, err := resection.NewRandomResection(resection.Config{
		Sampler:    cfg.SamplerOptions(),
		DeleteKeys: cfg.Output.DeleteKeys,
		Verbose:    cfg.Output.Verbose,
	})
	if err != nil {
		log.Fatalf("Failed to build transform: %v", err)
	}

	total := cfg.Processing.Count
	fmt.Printf("Generating %d augmented sample(s) with seed %d...\n", total, baseSeed)
	startTime := time.Now()

	var mu sync.Mutex
	realized := make([]*sampling.Parameters, total)

	var group errgroup.Group
	group.SetLimit(cfg.Processing.NumWorkers)
	for i := 0; i < total; i++ {
		i := i
		group.Go(func() error {
			// One independently seeded source per sample keeps parallel
			// runs reproducible regardless of scheduling order.
			rng := rand.New(rand.NewSource(baseSeed + uint64(i)))
			sample := &resection.Sample{
				Image:           brain,
				ResectableLeft:  masks["resectable_left"],
				ResectableRight: masks["resectable_right"],
				GrayMatterLeft:  masks["gray_matter_left"],
				GrayMatterRight: masks["gray_matter_right"],
				Noise:           noise,
			}
			if err := transform.Apply(sample, rng); err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}

			imagePath := indexedPath(*outputImage, i, total)
			labelPath := indexedPath(*outputLabel, i, total)
			if err := nifti.Write(imagePath, sample.Image); err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			foreground := labelMask(sample.Label)
			if err := nifti.WriteMask(labelPath, foreground); err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}

			if *previewDir != "" {
				viewer := visualization.NewViewer(sample.Image, foreground)
				dir := filepath.Join(*previewDir, fmt.Sprintf("sample_%03d", i))
				if err := viewer.SaveOrthogonal(sample.Resection.Center, dir); err != nil {
					log.Printf("Warning: failed to save previews for sample %d: %v", i, err)
				}
			}

			mu.Lock()
			realized[i] = sample.Resection
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		log.Fatalf("Generation failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nGeneration completed successfully in %.2f seconds!\n\n", processingTime.Seconds())
	fmt.Println("Realized resections:")
	for i, p := range realized {
		fmt.Printf("  [%03d] %s  hemisphere=%-5s  volume=%7.1f mm^3  center=%v\n",
			i, p.ID, p.Hemisphere, p.Volume, p.Center)
	}
	fmt.Printf("\nOutput images: %s\n", *outputImage)
	fmt.Printf("Output labels: %s\n", *outputLabel)
}

// synthesizeNoise builds a stand-in noise texture matched to the brain's
// intensity spread when no precomputed noise volume is supplied.
func synthesizeNoise(brain *volume.Volume, seed uint64) *volume.Volume {
	_, variance := stat.MeanVariance(brain.Data, nil)
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed ^ 0x9e3779b97f4a7c15)}
	if variance > 0 {
		dist.Sigma = 0.1 * math.Sqrt(variance)
	}
	noise := volume.New(brain.Grid)
	for i := range noise.Data {
		noise.Data[i] = dist.Rand()
	}
	return noise
}

// labelMask extracts the foreground channel of the label as a binary mask.
func labelMask(label *resection.Label) *volume.Mask {
	mask := volume.NewMask(label.Foreground.Grid)
	for i, v := range label.Foreground.Data {
		mask.Data[i] = v > 0.5
	}
	return mask
}

// indexedPath inserts a zero-padded sample index before the NIfTI extension
// when more than one sample is generated.
func indexedPath(path string, i, total int) string {
	if total == 1 {
		return path
	}
	ext := ""
	base := path
	for _, suffix := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(base, suffix) {
			ext = suffix
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	return fmt.Sprintf("%s_%03d%s", base, i, ext)
}
