// Package groundingdino - preprocess an image and text query into model inputs.
package groundingdino

import (
	"image"

	"github.com/pkg/errors"

	"github.com/mcvella/grounding-dino/models/model"
)

// PreProcess builds the text and image inputs for one (image, query) pair.
//
// The query is tokenized into input_ids, token_type_ids and attention_mask of shape [1, L]. The
// image is resized and normalized into pixel_values [1, 3, H, W] with an all-ones pixel_mask
// [1, H, W].
//
// Arguments:
//   - img: The input image.
//   - query: The free-text query naming what to detect.
//
// Returns:
//   - The batch holding the inputs and what postprocessing needs to interpret the outputs.
//   - error if the image cannot be preprocessed.
func (m *GroundingDINO) PreProcess(img image.Image, query string) (*model.Batch, error) {
	pixels, err := m.preprocessor.PreprocessImage(img)
	if err != nil {
		return nil, errors.Wrap(err, "image preprocessing failed")
	}

	enc := m.tokenizer.Encode(query)
	textShape := []int64{1, int64(enc.Len())}

	mask := make([]int64, pixels.Width*pixels.Height)
	for i := range mask {
		mask[i] = 1
	}

	return &model.Batch{
		Inputs: []model.Tensor{
			{Name: InputPixelValues, Shape: append([]int64{1}, pixels.Shape...), Float32: pixels.Data},
			{Name: InputIDs, Shape: textShape, Int64: enc.IDs},
			{Name: InputTokenTypeIDs, Shape: textShape, Int64: enc.TypeIDs},
			{Name: InputAttentionMask, Shape: textShape, Int64: enc.AttentionMask},
			{Name: InputPixelMask, Shape: []int64{1, int64(pixels.Height), int64(pixels.Width)}, Int64: mask},
		},
		InputIDs:  enc.IDs,
		ImageSize: image.Pt(pixels.OriginalWidth, pixels.OriginalHeight),
	}, nil
}
