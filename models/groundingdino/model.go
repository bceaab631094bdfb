// Package groundingdino - Grounding DINO open-vocabulary detection model.
package groundingdino

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/model/preprocess"
	"github.com/mcvella/grounding-dino/tokenizer"
)

// Input and output tensor names of the exported graph.
const (
	InputPixelValues   = "pixel_values"
	InputPixelMask     = "pixel_mask"
	InputIDs           = "input_ids"
	InputTokenTypeIDs  = "token_type_ids"
	InputAttentionMask = "attention_mask"

	OutputLogits = "logits"
	OutputBoxes  = "pred_boxes"
)

// ConfigFile is the model configuration read for max_text_len.
const ConfigFile = "config.json"

// DefaultMaxTextLen is the number of text positions the model scores.
const DefaultMaxTextLen = 256

// Inputs lists every input the model can consume, in feed order.
var Inputs = []string{InputPixelValues, InputIDs, InputTokenTypeIDs, InputAttentionMask, InputPixelMask}

// Outputs lists the outputs the postprocessor reads.
var Outputs = []string{OutputLogits, OutputBoxes}

// GroundingDINO is the instance of the Grounding DINO model.
type GroundingDINO struct {
	options      model.BaseModel
	tokenizer    *tokenizer.Tokenizer
	preprocessor *preprocess.Preprocessor
	maxTextLen   int
}

// Options returns the options for the Grounding DINO model.
//
// Returns:
//   - The options for the Grounding DINO model.
func (m *GroundingDINO) Options() model.BaseModel {
	return m.options
}

// Tokenizer returns the text tokenizer.
func (m *GroundingDINO) Tokenizer() *tokenizer.Tokenizer {
	return m.tokenizer
}

// MaxTextLen returns the maximum number of text tokens the model scores.
func (m *GroundingDINO) MaxTextLen() int {
	return m.maxTextLen
}

// NewModel creates a new model from a directory of Hugging Face model files.
//
// Arguments:
//   - args: The arguments for creating a new model. Dir holds the tokenizer and processor files,
//     Path is the ONNX graph.
//
// Returns:
//   - The model.
//   - error if the tokenizer or processor configuration cannot be loaded.
func NewModel(args model.NewModelArgs) (*GroundingDINO, error) {
	maxTextLen, err := readMaxTextLen(filepath.Join(args.Dir, ConfigFile))
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.Load(args.Dir, maxTextLen)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tokenizer")
	}

	cfg, err := preprocess.LoadProcessorConfig(filepath.Join(args.Dir, preprocess.ProcessorConfigFile))
	if err != nil {
		return nil, err
	}
	pre, err := preprocess.NewPreprocessor(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid image processor configuration")
	}

	return New(args.Path, tok, pre, maxTextLen), nil
}

// New assembles a model from already loaded parts.
//
// Arguments:
//   - path: The path of the ONNX graph.
//   - tok: The text tokenizer.
//   - pre: The image preprocessor.
//   - maxTextLen: The number of text positions the model scores; <= 0 uses DefaultMaxTextLen.
//
// Returns:
//   - The model.
func New(path string, tok *tokenizer.Tokenizer, pre *preprocess.Preprocessor, maxTextLen int) *GroundingDINO {
	if maxTextLen <= 0 {
		maxTextLen = DefaultMaxTextLen
	}
	return &GroundingDINO{
		options: model.BaseModel{
			Name:    model.ModelNameGroundingDINO,
			Family:  model.ModelFamilyGroundingDINO,
			Path:    path,
			Inputs:  Inputs,
			Outputs: Outputs,
		},
		tokenizer:    tok,
		preprocessor: pre,
		maxTextLen:   maxTextLen,
	}
}

func readMaxTextLen(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultMaxTextLen, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", path)
	}

	var cfg struct {
		MaxTextLen int `json:"max_text_len"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return 0, errors.Wrapf(err, "failed to parse %s", path)
	}
	if cfg.MaxTextLen <= 0 {
		return DefaultMaxTextLen, nil
	}
	return cfg.MaxTextLen, nil
}
