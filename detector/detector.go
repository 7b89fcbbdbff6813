package detector

import (
	"fmt"
	"image"

	"github.com/c360/visionstream/keypoint"
)

// Detector finds keypoints in a decoded image. Implementations must be safe
// for concurrent use; the extractor calls Detect from multiple workers.
type Detector interface {
	// Name identifies the algorithm, e.g. "fast".
	Name() string

	// Detect returns the keypoints found in img.
	Detect(img image.Image) ([]keypoint.Keypoint, error)
}

// Factory builds a detector from configuration.
type Factory func(threshold int) (Detector, error)

var factories = map[string]Factory{}

// RegisterFactory makes a detector constructor available by name.
// Implementations call this from init.
func RegisterFactory(name string, f Factory) {
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("detector factory %q already registered", name))
	}
	factories[name] = f
}

// New builds a registered detector by name.
func New(name string, threshold int) (Detector, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown detector %q", name)
	}
	return f(threshold)
}

// Names returns the registered detector names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
