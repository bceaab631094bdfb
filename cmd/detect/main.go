// Command detect runs grounded detection over image files and writes annotated copies with a JSON
// report next to them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"

	"github.com/mcvella/grounding-dino/common"
	"github.com/mcvella/grounding-dino/images"
	"github.com/mcvella/grounding-dino/inference"
	"github.com/mcvella/grounding-dino/inference/detectors"
	"github.com/mcvella/grounding-dino/inference/providers"
	"github.com/mcvella/grounding-dino/models"
	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/postprocess"
)

type options struct {
	modelID       string
	revision      string
	precision     string
	device        string
	query         string
	outputDir     string
	boxThreshold  float64
	textThreshold float64
	nmsIoU        float64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "detect [flags] IMAGE|DIR...",
		Short: "Detect objects described by a text query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, opts, args, logging.NewLogger("cli"))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.modelID, "model-id", models.DefaultModelID, "hub model id or local model directory")
	flags.StringVar(&opts.revision, "revision", "", "hub revision")
	flags.StringVar(&opts.precision, "precision", "", "graph precision (fp32, fp16, int8, uint8, q4, quantized)")
	flags.StringVar(&opts.device, "device", "", "execution device (auto, cpu, cuda, coreml, openvino)")
	flags.StringVarP(&opts.query, "query", "q", "", "objects to look for, e.g. \"a cat. a remote control.\"")
	flags.StringVarP(&opts.outputDir, "output-dir", "o", "detections", "directory for annotated images and reports")
	flags.Float64Var(&opts.boxThreshold, "box-threshold", float64(detectors.DefaultBoxThreshold), "minimum box score")
	flags.Float64Var(&opts.textThreshold, "text-threshold", float64(detectors.DefaultTextThreshold), "minimum token score for a label")
	flags.Float64Var(&opts.nmsIoU, "nms-iou", 0, "IoU threshold for class-aware NMS; 0 disables it")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func run(ctx context.Context, opts options, args []string, logger logging.Logger) error {
	files, err := collect(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", strings.Join(args, ", "))
	}

	backend, err := providers.ParseBackend(opts.device)
	if err != nil {
		return err
	}
	cfg := detectors.Config{
		BoxThreshold:  float32(opts.boxThreshold),
		TextThreshold: float32(opts.textThreshold),
	}
	if opts.nmsIoU > 0 {
		cfg.NMS = &postprocess.NMSConfig{IoUThreshold: float32(opts.nmsIoU), ClassAware: true}
	}

	engine, err := inference.Load(ctx, inference.LoadArgs{
		Source: models.Source{
			ModelID:   opts.modelID,
			Revision:  opts.revision,
			Precision: model.Precision(opts.precision),
		},
		Backend:  backend,
		Detector: cfg,
	}, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return err
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, _, err := images.Decode(file.Data)
		if err != nil {
			logger.Warnw("skipping image", "path", file.Path, "error", err)
			continue
		}

		results, err := engine.Predict(ctx, img, opts.query)
		if err != nil {
			return fmt.Errorf("%s: %w", file.Path, err)
		}
		var boxes []common.BoundingBox
		if len(results) > 0 {
			boxes = common.FromDetections(results[0])
		}

		base := strings.TrimSuffix(filepath.Base(file.Path), filepath.Ext(file.Path))
		if err := annotate(img, boxes).SavePNG(filepath.Join(opts.outputDir, base+".png")); err != nil {
			return err
		}
		if err := writeReport(filepath.Join(opts.outputDir, base+".json"), file.Path, opts.query, boxes); err != nil {
			return err
		}
		logger.Infow("detected", "path", file.Path, "count", len(boxes))
	}
	return nil
}

// collect expands the arguments into image files; directories contribute their images.
func collect(args []string) ([]images.ImageFile, error) {
	var files []images.ImageFile
	for _, arg := range args {
		found, err := images.LoadImageFiles(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

type record struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	XMin       int     `json:"x_min"`
	YMin       int     `json:"y_min"`
	XMax       int     `json:"x_max"`
	YMax       int     `json:"y_max"`
}

type report struct {
	Image      string   `json:"image"`
	Query      string   `json:"query"`
	Detections []record `json:"detections"`
}

func newReport(path, query string, boxes []common.BoundingBox) report {
	r := report{Image: path, Query: query, Detections: make([]record, 0, len(boxes))}
	for _, b := range boxes {
		rect := b.ToRect()
		r.Detections = append(r.Detections, record{
			Label:      b.Label,
			Confidence: b.Confidence,
			XMin:       rect.Min.X,
			YMin:       rect.Min.Y,
			XMax:       rect.Max.X,
			YMax:       rect.Max.Y,
		})
	}
	return r
}

func writeReport(path, image, query string, boxes []common.BoundingBox) error {
	data, err := json.MarshalIndent(newReport(image, query, boxes), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
