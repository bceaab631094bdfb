package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/rdk/components/camera"
	rutils "go.viam.com/rdk/utils"
)

// getCamImage fetches and decodes one frame from the named camera, falling back to the
// configured camera when name is empty. A JPEG source is preferred when the camera returns
// several images.
func getCamImage(ctx context.Context, snap *snapshot, name string) (image.Image, error) {
	if name == "" {
		name = snap.settings.cameraName
	}
	if name == "" {
		return nil, errNoCamera
	}

	cam, err := camera.FromProvider(snap.deps, name)
	if err != nil {
		return nil, errors.Wrapf(err, "camera %q not found", name)
	}

	namedImages, _, err := cam.Images(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("could not get images from camera %q: %w", name, err)
	}
	if len(namedImages) == 0 {
		return nil, fmt.Errorf("no images returned from camera %q", name)
	}

	chosen := lo.FindOrElse(namedImages, namedImages[0], func(ni camera.NamedImage) bool {
		return ni.MimeType() == rutils.MimeTypeJPEG
	})
	img, err := chosen.Image(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not decode image from camera %q: %w", name, err)
	}
	return img, nil
}
