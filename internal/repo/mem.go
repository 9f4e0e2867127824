package repo

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Mem is an in-memory repository. It is safe for concurrent use and mainly
// serves tests and transient pipelines with no storage backend.
type Mem struct {
	mu     sync.Mutex
	prefix string
	names  []string
	images map[string]gocv.Mat
	subs   map[string]*Mem
}

// NewMem creates an empty in-memory repository.
func NewMem() *Mem {
	return &Mem{
		images: make(map[string]gocv.Mat),
		subs:   make(map[string]*Mem),
	}
}

// Store keeps a clone of img under name. The locator is the slash-joined
// path from the root repository.
func (m *Mem) Store(img gocv.Mat, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.images[name]; ok {
		old.Close()
	} else {
		m.names = append(m.names, name)
	}
	m.images[name] = img.Clone()
	return m.prefix + name, nil
}

// StoreMany keeps clones of imgs as sequentially numbered entries.
func (m *Mem) StoreMany(imgs []gocv.Mat, baseName string) ([]string, error) {
	if err := validateName(baseName); err != nil {
		return nil, err
	}

	locators := make([]string, 0, len(imgs))
	for i, img := range imgs {
		locator, err := m.Store(img, fmt.Sprintf("%s_%03d.webp", baseName, i))
		if err != nil {
			return nil, err
		}
		locators = append(locators, locator)
	}
	return locators, nil
}

// Iterate visits stored images in insertion order.
func (m *Mem) Iterate(fn func(name string, img gocv.Mat) error) error {
	m.mu.Lock()
	names := make([]string, len(m.names))
	copy(names, m.names)
	m.mu.Unlock()

	for _, name := range names {
		m.mu.Lock()
		img, ok := m.images[name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn(name, img); err != nil {
			return err
		}
	}
	return nil
}

// SubRepo returns the named child repository, creating it on first use.
func (m *Mem) SubRepo(name string) (ImageRepository, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[name]
	if !ok {
		sub = NewMem()
		sub.prefix = m.prefix + name + "/"
		m.subs[name] = sub
	}
	return sub, nil
}

// Sub returns the named child repository without creating it, for tests
// that inspect pipeline output.
func (m *Mem) Sub(name string) (*Mem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[name]
	return sub, ok
}

// Len reports the number of stored images.
func (m *Mem) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}

// Close releases all stored Mats, recursively.
func (m *Mem) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, img := range m.images {
		img.Close()
	}
	m.images = make(map[string]gocv.Mat)
	m.names = nil
	for _, sub := range m.subs {
		sub.Close()
	}
}
