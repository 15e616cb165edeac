package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/urumi/internal/model"
)

var (
	// ErrNotFound is returned when a store record does not exist.
	ErrNotFound = errors.New("store not found")

	// ErrDuplicateKey is returned when inserting a store whose id is taken.
	ErrDuplicateKey = errors.New("duplicate store id")

	// ErrInvalidTransition is returned when a store status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Stats holds aggregate fleet counts.
type Stats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByType   map[string]int `json:"count_by_type"`
}

// Store is the durable registry of store records.
type Store interface {
	// CreateStore inserts a new record. It returns ErrDuplicateKey if the id exists.
	CreateStore(ctx context.Context, s *model.Store) error
	GetStore(ctx context.Context, id string) (*model.Store, error)
	// ListStores returns every record, newest first.
	ListStores(ctx context.Context) ([]*model.Store, error)
	// ListStuck returns records in status created before the cutoff, oldest first.
	ListStuck(ctx context.Context, status string, createdBefore time.Time) ([]*model.Store, error)
	// UpdateStoreStatus moves a record to status. It returns ErrNotFound if the
	// id is absent and ErrInvalidTransition if the current status may not move
	// to status.
	UpdateStoreStatus(ctx context.Context, id, status string) error
	// DeleteStore removes a record. It returns ErrNotFound if the id is absent.
	DeleteStore(ctx context.Context, id string) error
	GetStoreStats(ctx context.Context) (*Stats, error)
	Close() error
}
