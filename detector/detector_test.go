package detector

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"
	rutils "go.viam.com/rdk/utils"
	"go.viam.com/rdk/vision/viscapture"
	"go.viam.com/test"

	"github.com/mcvella/grounding-dino/inference"
	"github.com/mcvella/grounding-dino/models/postprocess"
)

type fakeEngine struct {
	mu      sync.Mutex
	queries []string
	bounds  image.Rectangle
	results []postprocess.Detections
	err     error
	closed  int
}

func (e *fakeEngine) Predict(_ context.Context, img image.Image, query string) ([]postprocess.Detections, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, query)
	e.bounds = img.Bounds()
	return e.results, e.err
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *fakeEngine) lastQuery() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queries) == 0 {
		return ""
	}
	return e.queries[len(e.queries)-1]
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeCamera struct {
	camera.Camera
	name   resource.Name
	images []camera.NamedImage
	err    error
}

func (c *fakeCamera) Name() resource.Name {
	return c.name
}

func (c *fakeCamera) Images(
	ctx context.Context,
	filterSourceNames []string,
	extra map[string]interface{},
) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	return c.images, resource.ResponseMetadata{}, c.err
}

func newFakeCamera(t *testing.T, name string, imgs map[string]image.Image) *fakeCamera {
	t.Helper()
	cam := &fakeCamera{name: camera.Named(name)}
	for _, mimeType := range []string{rutils.MimeTypePNG, rutils.MimeTypeJPEG} {
		img, ok := imgs[mimeType]
		if !ok {
			continue
		}
		ni, err := camera.NamedImageFromImage(img, "", mimeType)
		test.That(t, err, test.ShouldBeNil)
		cam.images = append(cam.images, ni)
	}
	return cam
}

// useEngines replaces the engine factory with one that hands out the given engines in order.
func useEngines(t *testing.T, engines ...*fakeEngine) {
	t.Helper()
	orig := newEngine
	var next int
	newEngine = func(ctx context.Context, s settings, logger logging.Logger) (inference.Engine, error) {
		if next >= len(engines) {
			return nil, errors.New("engine unavailable")
		}
		e := engines[next]
		next++
		return e, nil
	}
	t.Cleanup(func() { newEngine = orig })
}

func serviceConfig(cfg *Config) resource.Config {
	return resource.Config{
		Name:                "gd",
		API:                 vision.API,
		Model:               Model,
		ConvertedAttributes: cfg,
	}
}

func twoPeople() postprocess.Detections {
	return postprocess.Detections{
		Scores: []float32{0.94, 0.62},
		Labels: []string{"person", "spatula"},
		Boxes:  [][4]float32{{895.7, 4.2, 1570.9, 1069.5}, {871, 799, 1297, 947}},
	}
}

func newTestService(t *testing.T, deps resource.Dependencies, cfg *Config, engine *fakeEngine) *groundingDINO {
	t.Helper()
	useEngines(t, engine)
	svc, err := newGroundingDINO(context.Background(), deps, serviceConfig(cfg), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return svc.(*groundingDINO)
}

func TestDetections(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{results: []postprocess.Detections{twoPeople()}}
	svc := newTestService(t, nil, &Config{DefaultQuery: "person. spatula."}, engine)
	defer svc.Close(ctx)

	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	dets, err := svc.Detections(ctx, img, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, engine.lastQuery(), test.ShouldEqual, "person. spatula.")
	test.That(t, dets, test.ShouldHaveLength, 2)

	test.That(t, dets[0].Label(), test.ShouldEqual, "person")
	test.That(t, dets[0].Score(), test.ShouldAlmostEqual, 0.94, 1e-6)
	test.That(t, *dets[0].BoundingBox(), test.ShouldResemble, image.Rect(895, 4, 1570, 1069))
	test.That(t, dets[1].Label(), test.ShouldEqual, "spatula")
	test.That(t, *dets[1].BoundingBox(), test.ShouldResemble, image.Rect(871, 799, 1297, 947))
}

func TestDetectionsQuery(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{}
	svc := newTestService(t, nil, &Config{DefaultQuery: "cat."}, engine)
	defer svc.Close(ctx)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	for _, tc := range []struct {
		name  string
		extra map[string]interface{}
		want  string
	}{
		{"no extra", nil, "cat."},
		{"absent key", map[string]interface{}{"other": 1}, "cat."},
		{"nil query", map[string]interface{}{QueryKey: nil}, "cat."},
		{"override", map[string]interface{}{QueryKey: "dog."}, "dog."},
		{"empty override", map[string]interface{}{QueryKey: ""}, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dets, err := svc.Detections(ctx, img, tc.extra)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, dets, test.ShouldNotBeNil)
			test.That(t, dets, test.ShouldBeEmpty)
			test.That(t, engine.lastQuery(), test.ShouldEqual, tc.want)
		})
	}

	_, err := svc.Detections(ctx, img, map[string]interface{}{QueryKey: []int{1}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "must be a string")
}

func TestDetectionsEmptySet(t *testing.T) {
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	for _, tc := range []struct {
		name    string
		results []postprocess.Detections
	}{
		{"no sets", nil},
		{"one empty set", []postprocess.Detections{{}}},
		{"one set with empty slices", []postprocess.Detections{{
			Scores: []float32{},
			Labels: []string{},
			Boxes:  [][4]float32{},
		}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{results: tc.results}
			svc := newTestService(t, nil, &Config{DefaultQuery: "cat."}, engine)
			defer svc.Close(ctx)

			dets, err := svc.Detections(ctx, img, nil)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, dets, test.ShouldNotBeNil)
			test.That(t, dets, test.ShouldHaveLength, 0)
		})
	}
}

func TestDetectionsErrors(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{err: errors.New("boom")}
	svc := newTestService(t, nil, &Config{}, engine)
	defer svc.Close(ctx)

	_, err := svc.Detections(ctx, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = svc.Detections(ctx, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil)
	test.That(t, err, test.ShouldBeError, engine.err)
}

func TestDetectionsFromCamera(t *testing.T) {
	ctx := context.Background()
	png := image.NewRGBA(image.Rect(0, 0, 10, 10))
	jpeg := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	cam := newFakeCamera(t, "cam", map[string]image.Image{rutils.MimeTypePNG: png, rutils.MimeTypeJPEG: jpeg})
	deps := resource.Dependencies{camera.Named("cam"): cam}

	engine := &fakeEngine{results: []postprocess.Detections{twoPeople()}}
	svc := newTestService(t, deps, &Config{CameraName: "cam", DefaultQuery: "person."}, engine)
	defer svc.Close(ctx)

	t.Run("configured camera", func(t *testing.T) {
		dets, err := svc.DetectionsFromCamera(ctx, "", nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, engine.bounds, test.ShouldResemble, jpeg.Bounds())
		test.That(t, dets, test.ShouldHaveLength, 2)
		test.That(t, *dets[0].BoundingBox(), test.ShouldResemble, image.Rect(895, 4, 1570, 1069))
	})

	t.Run("named camera", func(t *testing.T) {
		dets, err := svc.DetectionsFromCamera(ctx, "cam", map[string]interface{}{QueryKey: "spatula."})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dets, test.ShouldHaveLength, 2)
		test.That(t, engine.lastQuery(), test.ShouldEqual, "spatula.")
	})

	t.Run("unknown camera", func(t *testing.T) {
		_, err := svc.DetectionsFromCamera(ctx, "missing", nil)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "missing")
	})
}

func TestDetectionsFromCameraNoCamera(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, &Config{}, &fakeEngine{})
	defer svc.Close(ctx)

	_, err := svc.DetectionsFromCamera(ctx, "", nil)
	test.That(t, err, test.ShouldBeError, errNoCamera)
}

func TestCameraErrors(t *testing.T) {
	ctx := context.Background()
	failing := &fakeCamera{name: camera.Named("broken"), err: errors.New("no frame")}
	empty := &fakeCamera{name: camera.Named("empty")}
	deps := resource.Dependencies{camera.Named("broken"): failing, camera.Named("empty"): empty}
	svc := newTestService(t, deps, &Config{}, &fakeEngine{})
	defer svc.Close(ctx)

	_, err := svc.DetectionsFromCamera(ctx, "broken", nil)
	test.That(t, errors.Is(err, failing.err), test.ShouldBeTrue)

	_, err = svc.DetectionsFromCamera(ctx, "empty", nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no images")
}

func TestCaptureAllFromCamera(t *testing.T) {
	ctx := context.Background()
	frame := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	cam := newFakeCamera(t, "cam", map[string]image.Image{rutils.MimeTypeJPEG: frame})
	deps := resource.Dependencies{camera.Named("cam"): cam}

	engine := &fakeEngine{results: []postprocess.Detections{twoPeople()}}
	svc := newTestService(t, deps, &Config{CameraName: "cam"}, engine)
	defer svc.Close(ctx)

	t.Run("detections without image", func(t *testing.T) {
		capt, err := svc.CaptureAllFromCamera(ctx, "", viscapture.CaptureOptions{ReturnDetections: true}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, capt.Image, test.ShouldBeNil)
		test.That(t, capt.Detections, test.ShouldHaveLength, 2)
	})

	t.Run("image and detections", func(t *testing.T) {
		capt, err := svc.CaptureAllFromCamera(ctx, "cam",
			viscapture.CaptureOptions{ReturnImage: true, ReturnDetections: true, ReturnClassifications: true}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, capt.Image, test.ShouldEqual, frame)
		test.That(t, capt.Detections, test.ShouldHaveLength, 2)
		test.That(t, capt.Classifications, test.ShouldBeNil)
	})

	t.Run("image only", func(t *testing.T) {
		capt, err := svc.CaptureAllFromCamera(ctx, "cam", viscapture.CaptureOptions{ReturnImage: true}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, capt.Image, test.ShouldEqual, frame)
		test.That(t, capt.Detections, test.ShouldBeNil)
	})

	t.Run("nothing requested", func(t *testing.T) {
		calls := len(engine.queries)
		capt, err := svc.CaptureAllFromCamera(ctx, "cam", viscapture.CaptureOptions{ReturnObject: true}, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, capt.Image, test.ShouldBeNil)
		test.That(t, capt.Detections, test.ShouldBeNil)
		test.That(t, engine.queries, test.ShouldHaveLength, calls)
	})
}

func TestUnsupported(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, &Config{}, &fakeEngine{})
	defer svc.Close(ctx)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	_, err := svc.Classifications(ctx, img, 5, nil)
	test.That(t, err, test.ShouldWrap, ErrUnsupported)
	_, err = svc.ClassificationsFromCamera(ctx, "cam", 5, nil)
	test.That(t, err, test.ShouldWrap, ErrUnsupported)
	_, err = svc.GetObjectPointClouds(ctx, "cam", nil)
	test.That(t, err, test.ShouldWrap, ErrUnsupported)

	_, err = svc.DoCommand(ctx, map[string]interface{}{"foo": "bar"})
	test.That(t, err, test.ShouldBeError, resource.ErrDoUnimplemented)
}

func TestGetProperties(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil, &Config{}, &fakeEngine{})
	defer svc.Close(ctx)

	props, err := svc.GetProperties(ctx, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.DetectionSupported, test.ShouldBeTrue)
	test.That(t, props.ClassificationSupported, test.ShouldBeFalse)
	test.That(t, props.ObjectPCDsSupported, test.ShouldBeFalse)
}

func TestReconfigure(t *testing.T) {
	ctx := context.Background()
	first := &fakeEngine{}
	second := &fakeEngine{}
	useEngines(t, first, second)

	svc, err := newGroundingDINO(ctx, nil, serviceConfig(&Config{DefaultQuery: "cat."}), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	g := svc.(*groundingDINO)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	inFlight, err := g.acquire()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, g.Reconfigure(ctx, nil, serviceConfig(&Config{DefaultQuery: "dog."})), test.ShouldBeNil)
	test.That(t, first.closeCount(), test.ShouldEqual, 0)

	_, err = g.Detections(ctx, img, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.lastQuery(), test.ShouldEqual, "dog.")

	inFlight.release()
	test.That(t, first.closeCount(), test.ShouldEqual, 1)

	// the factory is exhausted, so this reconfigure fails and the current engine keeps serving
	err = g.Reconfigure(ctx, nil, serviceConfig(&Config{DefaultQuery: "bird."}))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = g.Detections(ctx, img, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.lastQuery(), test.ShouldEqual, "dog.")
	test.That(t, second.closeCount(), test.ShouldEqual, 0)

	test.That(t, g.Close(ctx), test.ShouldBeNil)
	test.That(t, second.closeCount(), test.ShouldEqual, 1)

	_, err = g.Detections(ctx, img, nil)
	test.That(t, err, test.ShouldBeError, errClosed)
}

func TestNewFailsWithoutEngine(t *testing.T) {
	useEngines(t)
	_, err := newGroundingDINO(context.Background(), nil, serviceConfig(&Config{}), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "engine unavailable")
}

func TestConcurrentDetections(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{results: []postprocess.Detections{twoPeople()}}
	svc := newTestService(t, nil, &Config{DefaultQuery: "person."}, engine)
	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dets, err := svc.Detections(ctx, img, nil)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, dets, test.ShouldHaveLength, 2)
		}()
	}
	wg.Wait()

	test.That(t, svc.Close(ctx), test.ShouldBeNil)
	test.That(t, engine.closeCount(), test.ShouldEqual, 1)
}
