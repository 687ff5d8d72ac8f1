package memory

import (
	"testing"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return New() })
}
