// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"
	"sync"

	"github.com/mcvella/grounding-dino/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap threshold for suppression. 0 disables NMS.
	ClassAware   bool    // If true, suppress only within the same label.
	NumWorkers   int     // Number of goroutines for parallel IoU computation.
}

// Enabled reports whether the config asks for any suppression at all.
func (c *NMSConfig) Enabled() bool {
	return c != nil && c.IoUThreshold > 0
}

// ApplyNMS filters overlapping detections using Non-Maximum Suppression.
//
// Anchors are visited from highest to lowest score, but the surviving detections keep the order
// they had in the input.
//
// Arguments:
//   - detections: Slice of detections in any order.
//   - config: NMS configuration. A nil or disabled config returns the input unchanged.
//
// Returns:
//   - Filtered slice of detections.
func ApplyNMS(detections []Result, config *NMSConfig) []Result {
	if !config.Enabled() || len(detections) < 2 {
		return detections
	}

	order := scoreOrder(detections)
	var suppressed []bool
	if config.NumWorkers > 1 {
		suppressed = suppressParallel(detections, order, config)
	} else {
		suppressed = suppressGreedy(detections, order, config)
	}

	filtered := make([]Result, 0, len(detections))
	for i, det := range detections {
		if !suppressed[i] {
			filtered = append(filtered, det)
		}
	}
	return filtered
}

// ApplyGreedyNMS performs standard single-threaded greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Slice of detections in any order.
//   - config: NMS configuration.
//
// Returns:
//   - Filtered slice of detections.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	if !config.Enabled() {
		return detections
	}
	cfg := *config
	cfg.NumWorkers = 1
	return ApplyNMS(detections, &cfg)
}

// scoreOrder returns detection indices sorted by descending score; ties keep input order.
func scoreOrder(detections []Result) []int {
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Score > detections[order[b]].Score
	})
	return order
}

func overlaps(anchor, other Result, config *NMSConfig) bool {
	if config.ClassAware && anchor.Label != other.Label {
		return false
	}
	return images.CalculateIoU(anchor.Box, other.Box) > config.IoUThreshold
}

func suppressGreedy(detections []Result, order []int, config *NMSConfig) []bool {
	suppressed := make([]bool, len(detections))
	for a, i := range order {
		if suppressed[i] {
			continue
		}
		for _, j := range order[a+1:] {
			if !suppressed[j] && overlaps(detections[i], detections[j], config) {
				suppressed[j] = true
			}
		}
	}
	return suppressed
}

// suppressParallel splits the candidates of each anchor across workers. Every worker owns a
// disjoint set of indices, so writes to suppressed never race.
func suppressParallel(detections []Result, order []int, config *NMSConfig) []bool {
	suppressed := make([]bool, len(detections))
	for a, i := range order {
		if suppressed[i] {
			continue
		}
		rest := order[a+1:]
		if len(rest) == 0 {
			break
		}

		workers := min(config.NumWorkers, len(rest))
		chunk := (len(rest) + workers - 1) / workers

		var wg sync.WaitGroup
		for start := 0; start < len(rest); start += chunk {
			part := rest[start:min(start+chunk, len(rest))]
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, j := range part {
					if !suppressed[j] && overlaps(detections[i], detections[j], config) {
						suppressed[j] = true
					}
				}
			}()
		}
		wg.Wait()
	}
	return suppressed
}
