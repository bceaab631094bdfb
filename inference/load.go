package inference

import (
	"context"
	"fmt"

	"go.viam.com/rdk/logging"

	"github.com/mcvella/grounding-dino/hub"
	"github.com/mcvella/grounding-dino/inference/detectors"
	"github.com/mcvella/grounding-dino/inference/providers"
	"github.com/mcvella/grounding-dino/models"
)

// LoadArgs names a model and how to run it.
type LoadArgs struct {
	Source   models.Source
	Backend  providers.ProviderBackend
	Detector detectors.Config
	// Fetcher downloads hub files. Defaults to a hub client using the environment.
	Fetcher models.Fetcher
}

// Load resolves the model files, downloading them if needed, and builds an engine for them.
func Load(ctx context.Context, args LoadArgs, logger logging.Logger) (Engine, error) {
	fetcher := args.Fetcher
	if fetcher == nil {
		fetcher = hub.NewClient(hub.WithLogger(logger.Sublogger("hub")))
	}

	resolved, err := models.Resolve(ctx, fetcher, args.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model %s: %w", args.Source.ModelID, err)
	}
	logger.Infow("loading model", "model_id", args.Source.ModelID, "graph", resolved.ONNXPath, "device", args.Backend)

	return NewEngineBuilder(logger.Sublogger("engine")).
		WithProvider(args.Backend).
		WithModel(resolved.Args()).
		WithDetector(args.Detector).
		Build()
}
