package repo

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// imageExtensions are the file types Iterate picks up.
var imageExtensions = map[string]bool{
	".png":  true,
	".webp": true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// Dir is a filesystem-backed repository rooted at a single directory.
// Locators are absolute-ish file paths.
type Dir struct {
	root string
}

// NewDir opens (creating if necessary) a directory repository.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create repository directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat repository directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path is not a directory: %s", root)
	}
	return &Dir{root: root}, nil
}

// Store writes img below the repository root. Names must be plain filenames;
// a missing extension defaults to PNG.
func (d *Dir) Store(img gocv.Mat, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if filepath.Ext(name) == "" {
		name += ".png"
	}

	path := filepath.Join(d.root, name)
	if ok := gocv.IMWrite(path, img); !ok {
		return "", fmt.Errorf("write image %s", path)
	}
	return path, nil
}

// StoreMany writes imgs as sequentially numbered WebP files.
func (d *Dir) StoreMany(imgs []gocv.Mat, baseName string) ([]string, error) {
	if err := validateName(baseName); err != nil {
		return nil, err
	}

	locators := make([]string, 0, len(imgs))
	for i, img := range imgs {
		locator, err := d.Store(img, fmt.Sprintf("%s_%03d.webp", baseName, i))
		if err != nil {
			return nil, err
		}
		locators = append(locators, locator)
	}
	return locators, nil
}

// Iterate walks the repository's image files in sorted name order.
func (d *Dir) Iterate(fn func(name string, img gocv.Mat) error) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return fmt.Errorf("read repository directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		img, err := loadMat(filepath.Join(d.root, name))
		if err != nil {
			return err
		}
		err = fn(name, img)
		img.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// SubRepo creates (if needed) and opens a child directory repository.
func (d *Dir) SubRepo(name string) (ImageRepository, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return NewDir(filepath.Join(d.root, name))
}

// loadMat decodes an image file into a BGR Mat. Decoding goes through the
// standard image registry so PNG, JPEG, WebP and TIFF all work.
func loadMat(path string) (gocv.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("decode image %s: %w", path, err)
	}

	rgba, err := gocv.ImageToMatRGBA(toRGBA(img))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image %s: %w", path, err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}

// validateName rejects empty names and names with path components, so a
// caller cannot escape the repository root.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("image name must not be empty")
	}
	if filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("image name must not contain path components: %s", name)
	}
	return nil
}
