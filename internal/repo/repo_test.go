package repo

import (
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"
)

func solidMat(t *testing.T, value uint8) gocv.Mat {
	t.Helper()
	data := make([]byte, 4*4*3)
	for i := range data {
		data[i] = value
	}
	m, err := gocv.NewMatFromBytes(4, 4, gocv.MatTypeCV8UC3, data)
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	return m
}

func TestMemStoreIterate(t *testing.T) {
	m := NewMem()
	defer m.Close()

	imgA := solidMat(t, 10)
	defer imgA.Close()
	imgB := solidMat(t, 20)
	defer imgB.Close()

	if _, err := m.Store(imgA, "b.png"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := m.Store(imgB, "a.png"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	var names []string
	err := m.Iterate(func(name string, img gocv.Mat) error {
		names = append(names, name)
		if img.Empty() {
			t.Errorf("image %s is empty", name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	// Insertion order, not lexical.
	if len(names) != 2 || names[0] != "b.png" || names[1] != "a.png" {
		t.Errorf("iteration order = %v, want [b.png a.png]", names)
	}
}

func TestMemStoreMany(t *testing.T) {
	m := NewMem()
	defer m.Close()

	img := solidMat(t, 99)
	defer img.Close()

	locators, err := m.StoreMany([]gocv.Mat{img, img, img}, "vehicles_pg2")
	if err != nil {
		t.Fatalf("StoreMany: %v", err)
	}
	if len(locators) != 3 {
		t.Fatalf("expected 3 locators, got %d", len(locators))
	}
	if locators[0] != "vehicles_pg2_000.webp" {
		t.Errorf("locator = %q, want vehicles_pg2_000.webp", locators[0])
	}
}

func TestMemSubRepoNamespacing(t *testing.T) {
	m := NewMem()
	defer m.Close()

	sub, err := m.SubRepo("session")
	if err != nil {
		t.Fatalf("SubRepo: %v", err)
	}

	img := solidMat(t, 1)
	defer img.Close()

	locator, err := sub.Store(img, "roi.webp")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if locator != "session/roi.webp" {
		t.Errorf("locator = %q, want session/roi.webp", locator)
	}

	// Same name returns the same child.
	again, err := m.SubRepo("session")
	if err != nil {
		t.Fatalf("SubRepo: %v", err)
	}
	if got, ok := m.Sub("session"); !ok || got != again.(*Mem) {
		t.Error("SubRepo should return the existing child")
	}

	if m.Len() != 0 {
		t.Errorf("parent holds %d images, want 0", m.Len())
	}
}

func TestValidateNameRejectsPaths(t *testing.T) {
	m := NewMem()
	defer m.Close()

	img := solidMat(t, 5)
	defer img.Close()

	for _, name := range []string{"", "../escape.png", "a/b.png", "."} {
		if _, err := m.Store(img, name); err == nil {
			t.Errorf("Store(%q) should fail", name)
		}
		if _, err := m.SubRepo(name); err == nil {
			t.Errorf("SubRepo(%q) should fail", name)
		}
	}
}

func TestDirRoundTrip(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	img := solidMat(t, 77)
	defer img.Close()

	locator, err := d.Store(img, "crop.png")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if filepath.Base(locator) != "crop.png" {
		t.Errorf("locator = %q, want a path ending in crop.png", locator)
	}

	var seen int
	err = d.Iterate(func(name string, loaded gocv.Mat) error {
		seen++
		if name != "crop.png" {
			t.Errorf("name = %q, want crop.png", name)
		}
		if loaded.Rows() != 4 || loaded.Cols() != 4 {
			t.Errorf("loaded %dx%d, want 4x4", loaded.Cols(), loaded.Rows())
		}
		if v := loaded.GetVecbAt(0, 0); v[0] != 77 {
			t.Errorf("pixel = %v, want 77", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if seen != 1 {
		t.Errorf("iterated %d images, want 1", seen)
	}
}

func TestDirDefaultExtension(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	img := solidMat(t, 1)
	defer img.Close()

	locator, err := d.Store(img, "preview")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if filepath.Ext(locator) != ".png" {
		t.Errorf("locator = %q, want a .png default", locator)
	}
}

func TestDirSubRepo(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	sub, err := d.SubRepo("vehicles")
	if err != nil {
		t.Fatalf("SubRepo: %v", err)
	}

	img := solidMat(t, 9)
	defer img.Close()

	locator, err := sub.Store(img, "v.png")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	want := filepath.Join(root, "vehicles", "v.png")
	if locator != want {
		t.Errorf("locator = %q, want %q", locator, want)
	}

	// The parent's iteration does not descend into children.
	count := 0
	if err := d.Iterate(func(string, gocv.Mat) error { count++; return nil }); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if count != 0 {
		t.Errorf("parent iterated %d images, want 0", count)
	}
}
