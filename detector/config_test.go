package detector

import (
	"testing"

	"go.viam.com/test"

	"github.com/mcvella/grounding-dino/hub"
	"github.com/mcvella/grounding-dino/inference/detectors"
	"github.com/mcvella/grounding-dino/inference/providers"
	"github.com/mcvella/grounding-dino/models"
	"github.com/mcvella/grounding-dino/models/model"
)

func ptr(v float64) *float64 {
	return &v
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		cfg     Config
		deps    []string
		wantErr string
	}{
		{name: "empty", cfg: Config{}},
		{name: "hub id", cfg: Config{ModelID: "IDEA-Research/grounding-dino-base"}},
		{name: "local dir", cfg: Config{ModelID: t.TempDir()}},
		{name: "camera dependency", cfg: Config{CameraName: "cam"}, deps: []string{"cam"}},
		{name: "full", cfg: Config{
			DefaultQuery:    "a person. a spatula.",
			Device:          "CUDA",
			Precision:       "fp16",
			BoxThreshold:    ptr(0.5),
			TextThreshold:   ptr(0),
			NMSIoUThreshold: 0.5,
		}},
		{name: "onnx file in repo", cfg: Config{ONNXFile: "onnx/model_quantized.onnx", Revision: "refs/pr/3"}},
		{name: "bad model id", cfg: Config{ModelID: "not-a-model"}, wantErr: "model_id"},
		{name: "onnx file escapes", cfg: Config{ONNXFile: "../../x"}, wantErr: "onnx_file"},
		{name: "onnx file nested escape", cfg: Config{ONNXFile: "onnx/../../model.onnx"}, wantErr: "onnx_file"},
		{name: "onnx file absolute", cfg: Config{ONNXFile: "/tmp/model.onnx"}, wantErr: "onnx_file"},
		{name: "revision escapes", cfg: Config{Revision: "../main"}, wantErr: "revision"},
		{name: "blank query", cfg: Config{DefaultQuery: "   "}, wantErr: "default_query"},
		{name: "invalid utf8 query", cfg: Config{DefaultQuery: "\xff\xfe"}, wantErr: "UTF-8"},
		{name: "unknown device", cfg: Config{Device: "tpu"}, wantErr: "tpu"},
		{name: "unknown precision", cfg: Config{Precision: "fp8"}, wantErr: "precision"},
		{name: "box threshold", cfg: Config{BoxThreshold: ptr(1.5)}, wantErr: "box_threshold"},
		{name: "text threshold", cfg: Config{TextThreshold: ptr(-0.1)}, wantErr: "text_threshold"},
		{name: "nms threshold", cfg: Config{NMSIoUThreshold: 2}, wantErr: "nms_iou_threshold"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			deps, optional, err := tc.cfg.Validate("path")
			if tc.wantErr != "" {
				test.That(t, err, test.ShouldNotBeNil)
				test.That(t, err.Error(), test.ShouldContainSubstring, tc.wantErr)
				return
			}
			test.That(t, err, test.ShouldBeNil)
			test.That(t, deps, test.ShouldResemble, tc.deps)
			test.That(t, optional, test.ShouldBeNil)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	s, err := (&Config{}).resolved()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.defaultQuery, test.ShouldEqual, "")
	test.That(t, s.cameraName, test.ShouldEqual, "")
	test.That(t, s.backend, test.ShouldEqual, providers.AutoProviderBackend)
	test.That(t, s.source.ModelID, test.ShouldEqual, models.DefaultModelID)
	test.That(t, s.source.Revision, test.ShouldEqual, hub.DefaultRevision)
	test.That(t, s.detector.BoxThreshold, test.ShouldEqual, float32(detectors.DefaultBoxThreshold))
	test.That(t, s.detector.TextThreshold, test.ShouldEqual, float32(detectors.DefaultTextThreshold))
	test.That(t, s.detector.NMS, test.ShouldBeNil)
}

func TestConfigOverrides(t *testing.T) {
	s, err := (&Config{
		ModelID:         "IDEA-Research/grounding-dino-base",
		DefaultQuery:    "dog.",
		CameraName:      "cam",
		Device:          "cpu",
		Revision:        "v1",
		Precision:       "int8",
		BoxThreshold:    ptr(0.25),
		TextThreshold:   ptr(0.5),
		NMSIoUThreshold: 0.6,
	}).resolved()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.defaultQuery, test.ShouldEqual, "dog.")
	test.That(t, s.cameraName, test.ShouldEqual, "cam")
	test.That(t, s.backend, test.ShouldEqual, providers.CPUProviderBackend)
	test.That(t, s.source.ModelID, test.ShouldEqual, "IDEA-Research/grounding-dino-base")
	test.That(t, s.source.Revision, test.ShouldEqual, "v1")
	test.That(t, s.source.Precision, test.ShouldEqual, model.PrecisionINT8)
	test.That(t, s.detector.BoxThreshold, test.ShouldEqual, float32(0.25))
	test.That(t, s.detector.TextThreshold, test.ShouldEqual, float32(0.5))
	test.That(t, s.detector.NMS, test.ShouldNotBeNil)
	test.That(t, s.detector.NMS.IoUThreshold, test.ShouldEqual, float32(0.6))
	test.That(t, s.detector.NMS.ClassAware, test.ShouldBeTrue)
}
