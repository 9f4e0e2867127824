// Command paintguide finds the vehicle paint-scheme diagram in a scanned
// instruction PDF, extracts the vehicle figures, and recolors them from a
// palette specification.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"paintguide/internal/ocr"
	"paintguide/internal/pagefilter"
	"paintguide/internal/pipeline"
	"paintguide/internal/render"
	"paintguide/internal/repo"
	"paintguide/internal/vehicle"
)

func main() {
	mode := flag.String("mode", "extract", "extract or colorize")
	pdfPath := flag.String("pdf", "", "path to the instruction PDF (extract mode)")
	outDir := flag.String("out", "output", "output repository directory")
	inDir := flag.String("in", "", "directory of vehicle crops to recolor (colorize mode)")
	k := flag.Int("k", 6, "cluster count for gray quantization")
	dpi := flag.Float64("dpi", 250, "render resolution")
	pages := flag.String("pages", "", "comma-separated 1-based pages to consider (empty = all)")
	threshold := flag.Int("threshold", 5, "relevance score threshold; negative accepts every considered page without OCR")
	palette := flag.String("palette", "", `palette ranges, e.g. "#5A5A40(0-90),#8B7355(91-170)" (colorize mode)`)
	denoise := flag.String("denoise", "nlmeans", "segmentation denoise: none, gaussian or nlmeans")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()

	opts := pipeline.DefaultOptions()
	switch *denoise {
	case "none":
		opts.Segment.Denoise = vehicle.DenoiseNone
	case "gaussian":
		opts.Segment.Denoise = vehicle.DenoiseGaussian
	case "nlmeans":
		opts.Segment.Denoise = vehicle.DenoiseNLMeans
	default:
		fmt.Fprintf(os.Stderr, "Unknown denoise mode: %s\n", *denoise)
		os.Exit(1)
	}

	switch *mode {
	case "extract":
		runExtract(logger, opts, *pdfPath, *outDir, *pages, *k, *dpi, *threshold)
	case "colorize":
		runColorize(logger, opts, *inDir, *outDir, *palette, *k)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode: %s (want extract or colorize)\n", *mode)
		os.Exit(1)
	}
}

func runExtract(logger zerolog.Logger, opts pipeline.Options, pdfPath, outDir, pages string, k int, dpi float64, threshold int) {
	if pdfPath == "" {
		fmt.Println("Usage: paintguide -mode extract -pdf <path> [-out dir] [-k 6] [-dpi 250] [-pages 3,4] [-threshold 5]")
		os.Exit(1)
	}

	doc, err := os.ReadFile(pdfPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read PDF: %v\n", err)
		os.Exit(1)
	}

	out, err := repo.NewDir(outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open output repository: %v\n", err)
		os.Exit(1)
	}

	pageSet := pagefilter.ParsePageList(pages)
	var filter pagefilter.Filter
	if threshold >= 0 {
		extractor, err := ocr.NewExtractor()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start OCR: %v\n", err)
			os.Exit(1)
		}
		defer extractor.Close()
		filter = pagefilter.NewOCR(pageSet, extractor, threshold)
	} else {
		filter = pagefilter.NewStatic(pageSet)
	}

	pipe := pipeline.New(render.Fitz{}, render.NewPDFCPU(), opts, logger)
	result, err := pipe.ProcessDocument(doc, k, dpi, filter, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Processing failed: %v\n", err)
		os.Exit(1)
	}
	if result == nil {
		fmt.Println("No paint-scheme page found.")
		return
	}

	fmt.Printf("Found paint-scheme diagram on page %d\n", result.Page+1)
	fmt.Printf("Session:   %s\n", result.Session)
	fmt.Printf("Preview:   %s\n", result.PreviewLocator)
	fmt.Printf("Centroids: %v\n", result.Centroids)
}

func runColorize(logger zerolog.Logger, opts pipeline.Options, inDir, outDir, palette string, k int) {
	if inDir == "" || palette == "" {
		fmt.Println(`Usage: paintguide -mode colorize -in <vehicles dir> -palette "#RRGGBB(min-max),..." [-out dir] [-k 6]`)
		os.Exit(1)
	}

	in, err := repo.NewDir(inDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open input repository: %v\n", err)
		os.Exit(1)
	}
	out, err := repo.NewDir(outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open output repository: %v\n", err)
		os.Exit(1)
	}

	pipe := pipeline.New(render.Fitz{}, render.NewPDFCPU(), opts, logger)
	locators, err := pipe.ApplyColorMapping(k, palette, in, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Colorization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Recolored %d images:\n", len(locators))
	fmt.Println("  " + strings.Join(locators, "\n  "))
}
