package pointers

import (
	"time"

	"github.com/google/uuid"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func Float64(v float64) *float64  { return &v }
func Int(v int) *int              { return &v }
func String(v string) *string     { return &v }
func Bool(v bool) *bool           { return &v }
func Time(v time.Time) *time.Time { return &v }

// UUID returns nil for uuid.Nil so optional foreign keys stay NULL.
func UUID(v uuid.UUID) *uuid.UUID {
	if v == uuid.Nil {
		return nil
	}
	return &v
}
