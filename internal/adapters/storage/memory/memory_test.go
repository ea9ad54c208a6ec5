package memory

import (
	"testing"

	"policy-billing-engine/internal/adapters/storage/storagetest"
)

func TestRepository(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storagetest.Repository { return NewRepository() })
}
