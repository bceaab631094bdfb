package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
)

// ScenarioBuilder helps build test scenarios with fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Iterations: 20,
			WarmupRuns: 2,
		},
	}
}

// WithQuery sets the text query.
func (sb *ScenarioBuilder) WithQuery(query string) *ScenarioBuilder {
	sb.scenario.Query = query
	return sb
}

// WithResolution sets the image resolution.
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.Resolution = Resolution{
		Width:  width,
		Height: height,
		Name:   fmt.Sprintf("%dx%d", width, height),
	}
	return sb
}

// WithIterations sets the number of timed iterations.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of untimed runs before timing starts.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured test scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ScenarioSet represents a collection of related test scenarios.
type ScenarioSet struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Scenarios   []Scenario `json:"scenarios"`
}

// QuickScenarios runs each query once at 640x480.
func QuickScenarios(queries []string) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(queries))
	for i, query := range queries {
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("quick_%d", i)).
			WithQuery(query).
			WithResolution(640, 480).
			WithIterations(10).
			WithWarmupRuns(1).
			Build())
	}
	return &ScenarioSet{
		Name:        "Quick",
		Description: "Each query once at a small resolution",
		Scenarios:   scenarios,
	}
}

// ResolutionScenarios compares CommonResolutions for one query. The processor resizes every
// frame to the same shortest edge, so differences mostly show resize and decode cost.
func ResolutionScenarios(query string) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(CommonResolutions))
	for _, r := range CommonResolutions {
		scenarios = append(scenarios, NewScenarioBuilder("resolution_"+r.Name).
			WithQuery(query).
			WithResolution(r.Width, r.Height).
			Build())
	}
	return &ScenarioSet{
		Name:        "Resolutions",
		Description: "One query across common camera resolutions",
		Scenarios:   scenarios,
	}
}

// QueryLengthScenarios compares queries naming one up to n objects, since the text length
// changes the size of the fused model inputs.
func QueryLengthScenarios(objects []string, r Resolution) *ScenarioSet {
	scenarios := make([]Scenario, 0, len(objects))
	query := ""
	for i, obj := range objects {
		query += obj + ". "
		scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("objects_%d", i+1)).
			WithQuery(query[:len(query)-1]).
			WithResolution(r.Width, r.Height).
			Build())
	}
	return &ScenarioSet{
		Name:        "Query length",
		Description: "Growing queries at a fixed resolution",
		Scenarios:   scenarios,
	}
}

// SaveScenarioSet writes a scenario set as JSON.
func SaveScenarioSet(set *ScenarioSet, filename string) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scenario set: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scenario file: %w", err)
	}
	return nil
}

// LoadScenarioSet reads a scenario set written by SaveScenarioSet.
func LoadScenarioSet(filename string) (*ScenarioSet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var set ScenarioSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario set: %w", err)
	}
	return &set, nil
}
