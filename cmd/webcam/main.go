// Command webcam runs grounded detection on a live video capture device and shows the results in a
// window.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/signal"
	"time"

	"go.viam.com/rdk/logging"
	"gocv.io/x/gocv"

	"github.com/mcvella/grounding-dino/common"
	"github.com/mcvella/grounding-dino/inference"
	"github.com/mcvella/grounding-dino/inference/detectors"
	"github.com/mcvella/grounding-dino/inference/providers"
	"github.com/mcvella/grounding-dino/models"
)

func main() {
	var (
		deviceID = flag.Int("device-id", 0, "video capture device")
		modelID  = flag.String("model-id", models.DefaultModelID, "hub model id or local model directory")
		device   = flag.String("device", "", "execution device (auto, cpu, cuda, coreml, openvino)")
		query    = flag.String("query", "a person.", "objects to look for")
	)
	flag.Parse()

	logger := logging.NewLogger("webcam")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *deviceID, *modelID, *device, *query, logger); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, deviceID int, modelID, device, query string, logger logging.Logger) error {
	backend, err := providers.ParseBackend(device)
	if err != nil {
		return err
	}
	engine, err := inference.Load(ctx, inference.LoadArgs{
		Source:   models.Source{ModelID: modelID},
		Backend:  backend,
		Detector: detectors.DefaultConfig(),
	}, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return fmt.Errorf("failed to open capture device %d: %w", deviceID, err)
	}
	defer webcam.Close()

	window := gocv.NewWindow("Grounding DINO")
	defer window.Close()

	img := gocv.NewMat()
	defer img.Close()

	green := color.RGBA{0, 255, 0, 0}
	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	logger.Infow("reading camera device", "device_id", deviceID, "query", query)
	for ctx.Err() == nil {
		if ok := webcam.Read(&img); !ok {
			return fmt.Errorf("cannot read device %d", deviceID)
		}
		if img.Empty() {
			continue
		}

		frameCount++
		if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = time.Now()
		}

		frame, err := img.ToImage()
		if err != nil {
			return err
		}
		results, err := engine.Predict(ctx, frame, query)
		if err != nil {
			return err
		}

		var boxes []common.BoundingBox
		if len(results) > 0 {
			boxes = common.FromDetections(results[0])
		}
		for _, b := range boxes {
			rect := b.ToRect()
			gocv.Rectangle(&img, rect, green, 2)
			gocv.PutText(&img, fmt.Sprintf("%s %.2f", b.Label, b.Confidence),
				image.Pt(rect.Min.X, rect.Min.Y-4), gocv.FontHersheyPlain, 1.2, green, 2)
		}
		gocv.PutText(&img, fmt.Sprintf("FPS: %.2f | objects: %d", fps, len(boxes)),
			image.Pt(10, 30), gocv.FontHersheyPlain, 1.2, color.RGBA{255, 255, 255, 0}, 2)

		window.IMShow(img)
		if window.WaitKey(1) == 27 {
			return nil
		}
	}
	return nil
}
