package detector

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	goutils "go.viam.com/utils"

	"github.com/mcvella/grounding-dino/hub"
	"github.com/mcvella/grounding-dino/inference/detectors"
	"github.com/mcvella/grounding-dino/inference/providers"
	"github.com/mcvella/grounding-dino/models"
	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/postprocess"
)

// Config holds the attributes of a grounding-dino vision service.
type Config struct {
	// ModelID is a hub id (owner/name) or a local directory holding the model files.
	ModelID string `json:"model_id,omitempty"`
	// DefaultQuery is used when a request carries no query.
	DefaultQuery string `json:"default_query,omitempty"`
	// CameraName is used when a camera request names no camera.
	CameraName string `json:"camera_name,omitempty"`
	// Device is auto, cpu, cuda, coreml or openvino.
	Device string `json:"device,omitempty"`
	// Revision is the hub revision of ModelID.
	Revision string `json:"revision,omitempty"`
	// ONNXFile is the graph path inside the model repository or directory.
	ONNXFile string `json:"onnx_file,omitempty"`
	// Precision picks a quantized graph variant when ONNXFile is empty.
	Precision string `json:"precision,omitempty"`

	BoxThreshold    *float64 `json:"box_threshold,omitempty"`
	TextThreshold   *float64 `json:"text_threshold,omitempty"`
	NMSIoUThreshold float64  `json:"nms_iou_threshold,omitempty"`
}

// Validate ensures all parts of the config are valid and returns the camera as a dependency.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, goutils.NewConfigValidationError(path, err)
	}

	var deps []string
	if cfg.CameraName != "" {
		deps = append(deps, cfg.CameraName)
	}
	return deps, nil, nil
}

func (cfg *Config) validate() error {
	if cfg.ModelID != "" {
		if info, err := os.Stat(cfg.ModelID); err != nil || !info.IsDir() {
			if err := hub.ValidateModelID(cfg.ModelID); err != nil {
				return fmt.Errorf("model_id must be a directory or a hub id: %w", err)
			}
		}
	}

	if cfg.DefaultQuery != "" {
		if !utf8.ValidString(cfg.DefaultQuery) {
			return fmt.Errorf("default_query is not valid UTF-8")
		}
		if strings.TrimSpace(cfg.DefaultQuery) == "" {
			return fmt.Errorf("default_query must not be blank")
		}
	}

	if cfg.ONNXFile != "" {
		if err := hub.ValidatePath(cfg.ONNXFile); err != nil {
			return fmt.Errorf("onnx_file must be a path inside the model: %w", err)
		}
	}
	if cfg.Revision != "" {
		if err := hub.ValidatePath(cfg.Revision); err != nil {
			return fmt.Errorf("revision: %w", err)
		}
	}

	if _, err := providers.ParseBackend(cfg.Device); err != nil {
		return err
	}
	if _, err := model.Precision(cfg.Precision).ONNXFile(); err != nil {
		return err
	}

	for name, v := range map[string]*float64{
		"box_threshold":     cfg.BoxThreshold,
		"text_threshold":    cfg.TextThreshold,
		"nms_iou_threshold": &cfg.NMSIoUThreshold,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, *v)
		}
	}
	return nil
}

// settings is a config with every default applied.
type settings struct {
	defaultQuery string
	cameraName   string
	backend      providers.ProviderBackend
	source       models.Source
	detector     detectors.Config
}

// resolved applies the defaults. It assumes Validate passed.
func (cfg *Config) resolved() (settings, error) {
	backend, err := providers.ParseBackend(cfg.Device)
	if err != nil {
		return settings{}, err
	}

	s := settings{
		defaultQuery: cfg.DefaultQuery,
		cameraName:   cfg.CameraName,
		backend:      backend,
		source: models.Source{
			ModelID:   cfg.ModelID,
			Revision:  cfg.Revision,
			ONNXFile:  cfg.ONNXFile,
			Precision: model.Precision(cfg.Precision),
		},
		detector: detectors.DefaultConfig(),
	}
	if s.source.ModelID == "" {
		s.source.ModelID = models.DefaultModelID
	}
	if s.source.Revision == "" {
		s.source.Revision = hub.DefaultRevision
	}
	if cfg.BoxThreshold != nil {
		s.detector.BoxThreshold = float32(*cfg.BoxThreshold)
	}
	if cfg.TextThreshold != nil {
		s.detector.TextThreshold = float32(*cfg.TextThreshold)
	}
	if cfg.NMSIoUThreshold > 0 {
		s.detector.NMS = &postprocess.NMSConfig{IoUThreshold: float32(cfg.NMSIoUThreshold), ClassAware: true}
	}
	return s, nil
}
