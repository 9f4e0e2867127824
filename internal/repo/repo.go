// Package repo stores and enumerates pipeline image artifacts.
package repo

import "gocv.io/x/gocv"

// ImageRepository is the storage collaborator for pipeline artifacts.
// Implementations own the locator format; callers never inspect it.
type ImageRepository interface {
	// Store writes an image under the given name and returns its locator.
	// A name without an extension gets the implementation's default format.
	Store(img gocv.Mat, name string) (string, error)
	// StoreMany writes images as "<base>_NNN" in input order.
	StoreMany(imgs []gocv.Mat, baseName string) ([]string, error)
	// Iterate calls fn for every stored image in name order. The Mat
	// passed to fn is only valid for the duration of the call.
	Iterate(fn func(name string, img gocv.Mat) error) error
	// SubRepo returns a repository namespaced under name, creating it if
	// needed.
	SubRepo(name string) (ImageRepository, error)
}
