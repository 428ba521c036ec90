// Package store defines the template persistence contract. Implementations
// register themselves as the "store" service so the dialog and provisioning
// layers can look them up without naming a concrete backend.
package store

import (
	"errors"

	"github.com/mzhadan/chatforge/internal/template"
)

// ServiceName is the service registry key implementations publish under.
const ServiceName = "store"

var (
	// ErrNameConflict is returned when a write would collide with an
	// existing template name for the same owner. The stored data is
	// untouched.
	ErrNameConflict = errors.New("store: template name already exists")

	// ErrNotFound is returned when no template matches owner and name.
	ErrNotFound = errors.New("store: template not found")

	// ErrOwnerQuota is returned when an owner already holds the maximum
	// number of templates.
	ErrOwnerQuota = errors.New("store: template limit reached for owner")

	// ErrIntegrity is returned when a post-write verification failed and
	// the previous on-disk version was restored.
	ErrIntegrity = errors.New("store: persisted data failed verification, previous version restored")
)

// Store persists forum chat templates per owner.
//
// Upsert validates the template, then inserts or replaces it. prevName
// selects rename-and-replace: the template previously stored under
// prevName is removed, its CreatedAt carried over, and the new name must
// not collide with any other template of the owner. With an empty
// prevName, writing a template whose name already exists returns
// ErrNameConflict even when the content is identical.
type Store interface {
	Upsert(ownerID int64, tpl template.Template, prevName string) error
	Get(ownerID int64, name string) (template.Template, error)
	GetAll(ownerID int64) []template.Template
	Delete(ownerID int64, name string) bool
}
