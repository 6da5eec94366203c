// Package types provides common types shared by the paysync domain packages.
package types

import "time"

// Entity carries the write timestamps of a stored record.
//
// Stores set CreatedAt and UpdatedAt to the same instant when they insert a
// row and advance UpdatedAt on every later write, so a freshly returned
// document with equal timestamps was inserted by that call.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates a new Entity with both timestamps set to now.
func NewEntity() Entity {
	return NewEntityAt(time.Now())
}

// NewEntityAt creates a new Entity with both timestamps set to t.
func NewEntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{
		CreatedAt: t,
		UpdatedAt: t,
	}
}

// Touch advances UpdatedAt to t.
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}

// IsNewlyCreated reports whether the record has never been written after its
// insert.
func (e Entity) IsNewlyCreated() bool {
	return !e.CreatedAt.IsZero() && e.CreatedAt.Equal(e.UpdatedAt)
}

// Age returns how long ago the entity was created.
func (e Entity) Age() time.Duration {
	return time.Since(e.CreatedAt)
}
