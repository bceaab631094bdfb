// Package groundingdino - postprocess Grounding DINO model outputs.
package groundingdino

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/postprocess"
)

// PostProcess turns the raw logits and boxes into grounded detections.
//
// Each query's score is the highest sigmoid token probability. Queries scoring above the box
// threshold are kept in query order; their label is the decoded text of the tokens whose
// probability exceeds the text threshold, and their box is converted from normalized
// (cx, cy, w, h) to (x_min, y_min, x_max, y_max) in original image pixels.
//
// Arguments:
//   - outputs: The session outputs by name; logits [1, Q, T] and pred_boxes [1, Q, 4].
//   - batch: The batch the outputs were computed from.
//   - thresholds: The box and text thresholds.
//
// Returns:
//   - The detections for the image.
//   - error if the outputs are missing or malformed.
func (m *GroundingDINO) PostProcess(
	outputs map[string]model.Tensor,
	batch *model.Batch,
	thresholds model.Thresholds,
) (postprocess.Detections, error) {
	logits, boxes, err := outputViews(outputs)
	if err != nil {
		return postprocess.Detections{}, err
	}

	shape := logits.Shape()
	queries, positions := shape[0], shape[1]
	if boxes.Shape()[0] != queries {
		return postprocess.Detections{}, fmt.Errorf(
			"logits have %d queries but pred_boxes have %d", queries, boxes.Shape()[0],
		)
	}

	// The first position is [CLS]; the last scored position is never part of a phrase.
	lastPosition := min(positions-1, len(batch.InputIDs))
	width := float32(batch.ImageSize.X)
	height := float32(batch.ImageSize.Y)

	logitData := logits.Data().([]float32)
	boxData := boxes.Data().([]float32)
	probs := make([]float32, positions)

	result := postprocess.Detections{
		Scores: []float32{},
		Labels: []string{},
		Boxes:  [][4]float32{},
	}
	for q := 0; q < queries; q++ {
		row := logitData[q*positions : (q+1)*positions]
		var best float32
		for t, logit := range row {
			probs[t] = sigmoid(logit)
			best = math32.Max(best, probs[t])
		}
		if best <= thresholds.Box {
			continue
		}

		var ids []int64
		for t := 1; t < lastPosition; t++ {
			if probs[t] > thresholds.Text {
				ids = append(ids, batch.InputIDs[t])
			}
		}

		b := boxData[q*4 : q*4+4]
		cx, cy, w, h := b[0], b[1], b[2], b[3]
		result.Scores = append(result.Scores, best)
		result.Labels = append(result.Labels, m.tokenizer.Decode(ids))
		result.Boxes = append(result.Boxes, [4]float32{
			(cx - w/2) * width,
			(cy - h/2) * height,
			(cx + w/2) * width,
			(cy + h/2) * height,
		})
	}

	return result, nil
}

// outputViews wraps the logits and boxes as [Q, T] and [Q, 4] tensors, dropping the batch axis.
func outputViews(outputs map[string]model.Tensor) (*tensor.Dense, *tensor.Dense, error) {
	views := make([]*tensor.Dense, 0, len(Outputs))
	for _, name := range Outputs {
		out, ok := outputs[name]
		if !ok {
			return nil, nil, fmt.Errorf("missing model output %q", name)
		}
		if len(out.Shape) != 3 || out.Shape[0] != 1 {
			return nil, nil, fmt.Errorf("output %q has shape %v, want [1, N, M]", name, out.Shape)
		}
		if int64(len(out.Float32)) != out.Elements() {
			return nil, nil, fmt.Errorf("output %q holds %d values for shape %v", name, len(out.Float32), out.Shape)
		}
		dense := tensor.New(
			tensor.WithShape(int(out.Shape[1]), int(out.Shape[2])),
			tensor.WithBacking(out.Float32),
		)
		views = append(views, dense)
	}

	if cols := views[1].Shape()[1]; cols != 4 {
		return nil, nil, errors.Errorf("pred_boxes have %d coordinates, want 4", cols)
	}
	return views[0], views[1], nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
