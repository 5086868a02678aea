package world

import (
	"github.com/zeusync/netsync/internal/core/models"
)

// Storage is the host entity/component store the synchronization core writes into.
// Only point operations are required; the core never iterates the world.
type Storage interface {
	// Entity lifecycle

	Create() models.Handle
	Delete(models.Handle) bool
	Exists(models.Handle) bool

	// Component management

	Attach(models.Handle, models.ComponentID, any) error
	Detach(models.Handle, models.ComponentID) bool
	Has(models.Handle, models.ComponentID) bool
	Get(models.Handle, models.ComponentID) (any, bool)
}
