package steering

import (
	"log"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/backends/simplego"
)

// NewBackend returns the default registered gomlx backend (XLA when its PJRT
// plugin is installed; GOMLX_BACKEND overrides the choice). Training needs
// it: SimpleGo cannot differentiate convolutions. When no default backend
// can be created SimpleGo is returned, which is enough for inference.
func NewBackend() (backends.Backend, error) {
	backend, err := backends.New()
	if err == nil {
		return backend, nil
	}
	log.Printf("warning: default gomlx backend unavailable (%v); falling back to simplego (inference only)", err)
	return simplego.New("")
}
