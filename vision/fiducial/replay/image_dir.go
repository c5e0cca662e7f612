package replay

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/vision/fiducial"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
}

// An ImageDirSource yields the images of a directory in name order.
type ImageDirSource struct {
	mu    sync.Mutex
	files []string
	next  int
	// MaxWidth downscales wider images, keeping the aspect ratio. Zero keeps the original size.
	MaxWidth int
	clock    clock.Clock
}

// NewImageDirSource lists the images of dir. Frames are stamped with clk, or the wall clock when
// clk is nil.
func NewImageDirSource(dir string, clk clock.Clock) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, config.NewConfigError(dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, config.NewConfigError(dir, errors.New("directory has no images"))
	}
	sort.Strings(files)
	if clk == nil {
		clk = clock.New()
	}
	return &ImageDirSource{files: files, clock: clk}, nil
}

// Len returns the number of images.
func (s *ImageDirSource) Len() int {
	return len(s.files)
}

// Next decodes the next image.
func (s *ImageDirSource) Next(ctx context.Context) (fiducial.Frame, error) {
	if err := ctx.Err(); err != nil {
		return fiducial.Frame{}, err
	}
	s.mu.Lock()
	if s.next >= len(s.files) {
		s.mu.Unlock()
		return fiducial.Frame{}, io.EOF
	}
	index, path := s.next, s.files[s.next]
	s.next++
	s.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return fiducial.Frame{}, errors.Wrapf(err, "cannot decode %q", path)
	}
	if s.MaxWidth > 0 && img.Bounds().Dx() > s.MaxWidth {
		img = imaging.Resize(img, s.MaxWidth, 0, imaging.Lanczos)
	}
	return fiducial.Frame{
		Index: index,
		Time:  s.clock.Now(),
		Size:  img.Bounds().Size(),
		Image: img,
	}, nil
}

// Close does nothing; images are read whole.
func (s *ImageDirSource) Close(ctx context.Context) error {
	return nil
}
