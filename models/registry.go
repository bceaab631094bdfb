// Package models - registry for models.
package models

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/mcvella/grounding-dino/hub"
	"github.com/mcvella/grounding-dino/models/groundingdino"
	"github.com/mcvella/grounding-dino/models/model"
	"github.com/mcvella/grounding-dino/models/model/preprocess"
	"github.com/mcvella/grounding-dino/tokenizer"
)

// DefaultModelID is the checkpoint served when none is configured.
const DefaultModelID = "IDEA-Research/grounding-dino-tiny"

// Hub organizations involved in resolving a graph.
const (
	upstreamOwner = "IDEA-Research"
	mirrorOwner   = "onnx-community"
	mirrorSuffix  = "-ONNX"
	onnxDir       = "onnx"
)

// supportFiles are fetched next to the graph; all are optional because each has a fallback.
var supportFiles = []string{
	groundingdino.ConfigFile,
	preprocess.ProcessorConfigFile,
	tokenizer.TokenizerFile,
	tokenizer.TokenizerConfigFile,
	tokenizer.VocabFile,
}

// Fetcher downloads repository files; *hub.Client implements it.
type Fetcher interface {
	Download(ctx context.Context, modelID, revision string, files []hub.File) (map[string]string, error)
}

// Source names a model: a hub id or a local directory, plus optional overrides.
type Source struct {
	// ModelID is owner/name on the hub, or a directory holding the model files.
	ModelID string
	// Revision is the hub revision of ModelID.
	Revision string
	// ONNXFile is the graph path inside the repository or directory.
	ONNXFile string
	// Precision selects the graph variant when ONNXFile is empty.
	Precision model.Precision
}

// Resolved is a model whose files are all on local disk.
type Resolved struct {
	Name model.Name
	// Dir holds the tokenizer and processor files.
	Dir string
	// ONNXPath is the graph.
	ONNXPath string
}

// Args returns the arguments NewModel takes for the resolved files.
func (r *Resolved) Args() model.NewModelArgs {
	return model.NewModelArgs{
		Name:   r.Name,
		Path:   r.ONNXPath,
		Dir:    r.Dir,
		Family: model.ModelFamilyGroundingDINO,
	}
}

// GraphRepo returns the repository holding the ONNX export of modelID. IDEA-Research checkpoints
// ship PyTorch weights only; their exports live under onnx-community.
//
// Arguments:
//   - modelID: The hub id of the checkpoint.
//
// Returns:
//   - string: The repository to fetch the graph from.
//   - bool: Whether the repository is a mirror of modelID.
func GraphRepo(modelID string) (string, bool) {
	owner, name, ok := strings.Cut(modelID, "/")
	if !ok || owner != upstreamOwner {
		return modelID, false
	}
	return mirrorOwner + "/" + name + mirrorSuffix, true
}

// Resolve makes the files of src available locally.
//
// A ModelID naming an existing directory is used in place. Anything else is treated as a hub id:
// the support files come from the repository itself and the graph from GraphRepo.
//
// Arguments:
//   - ctx: Cancels downloads.
//   - fetcher: Downloads hub files.
//   - src: The model to resolve.
//
// Returns:
//   - *Resolved: The local files.
//   - error: An error if the graph cannot be found or fetched.
func Resolve(ctx context.Context, fetcher Fetcher, src Source) (*Resolved, error) {
	if src.ModelID == "" {
		src.ModelID = DefaultModelID
	}
	graphFile, err := graphFileName(src)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(src.ModelID); err == nil && info.IsDir() {
		return resolveLocal(src.ModelID, src.ONNXFile, graphFile)
	}
	if err := hub.ValidateModelID(src.ModelID); err != nil {
		return nil, fmt.Errorf("model_id %q is neither a directory nor a hub id: %w", src.ModelID, err)
	}

	dir, err := fetchSupport(ctx, fetcher, src.ModelID, src.Revision)
	if err != nil {
		return nil, err
	}

	graphRepo, mirrored := GraphRepo(src.ModelID)
	graphRevision := lo.Ternary(mirrored, hub.DefaultRevision, src.Revision)
	graph, err := fetcher.Download(ctx, graphRepo, graphRevision, []hub.File{{Name: graphFile}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph from %s: %w", graphRepo, err)
	}

	if dir == "" && mirrored {
		if dir, err = fetchSupport(ctx, fetcher, graphRepo, graphRevision); err != nil {
			return nil, err
		}
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: no tokenizer or processor files for %s", tokenizer.ErrNoVocab, src.ModelID)
	}

	return &Resolved{
		Name:     model.ModelNameGroundingDINO,
		Dir:      dir,
		ONNXPath: graph[graphFile],
	}, nil
}

// fetchSupport downloads the optional support files of repo and returns the directory holding
// them, or "" when the repository has none.
func fetchSupport(ctx context.Context, fetcher Fetcher, repo, revision string) (string, error) {
	paths, err := fetcher.Download(ctx, repo, revision, lo.Map(supportFiles, func(name string, _ int) hub.File {
		return hub.File{Name: name, Optional: true}
	}))
	if err != nil {
		return "", err
	}
	values := lo.Values(paths)
	if len(values) == 0 {
		return "", nil
	}
	return filepath.Dir(values[0]), nil
}

func graphFileName(src Source) (string, error) {
	if src.ONNXFile != "" {
		if err := hub.ValidatePath(src.ONNXFile); err != nil {
			return "", fmt.Errorf("onnx file: %w", err)
		}
		return filepath.ToSlash(src.ONNXFile), nil
	}
	name, err := src.Precision.ONNXFile()
	if err != nil {
		return "", err
	}
	return path.Join(onnxDir, name), nil
}

func resolveLocal(dir, configured, graphFile string) (*Resolved, error) {
	candidates := []string{graphFile}
	if configured == "" {
		candidates = append(candidates, path.Base(graphFile))
	}
	found, ok := lo.Find(candidates, func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name)))
		return err == nil
	})
	if !ok {
		return nil, fmt.Errorf("no ONNX graph in %s (looked for %s)", dir, strings.Join(candidates, ", "))
	}
	return &Resolved{
		Name:     model.ModelNameGroundingDINO,
		Dir:      dir,
		ONNXPath: filepath.Join(dir, filepath.FromSlash(found)),
	}, nil
}

// NewModel creates a new detection model instance based on the specified model type.
//
// Arguments:
//   - args: Configuration parameters specifying the model type and location.
//
// Returns:
//   - model.Model: A fully configured model instance implementing the Model interface.
//   - error: An error if model creation fails or the model type is unsupported.
func NewModel(args model.NewModelArgs) (model.Model, error) {
	switch args.Name {
	case model.ModelNameGroundingDINO, "":
		m, err := groundingdino.NewModel(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported model name: %s", args.Name)
	}
}
