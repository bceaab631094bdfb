package images

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// ImageFile is an encoded image read from disk.
type ImageFile struct {
	Path string
	Data []byte
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp", ".tif", ".tiff"}

// IsImageFile reports whether path has an image file extension, ignoring case.
func IsImageFile(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}

// LoadDirectoryImageFiles reads every image file directly inside dir. Subdirectories are not
// visited.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The files ordered by path.
// - error: Error if the directory or a file cannot be read.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && IsImageFile(e.Name())
	})
	slices.Sort(names)

	files := make([]ImageFile, 0, len(names))
	for _, name := range names {
		f, err := readImageFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// LoadImageFiles reads path as a single image file, or as a directory of them.
func LoadImageFiles(path string) ([]ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDirectoryImageFiles(path)
	}
	f, err := readImageFile(path)
	if err != nil {
		return nil, err
	}
	return []ImageFile{f}, nil
}

func readImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, err
	}
	return ImageFile{Path: path, Data: data}, nil
}
