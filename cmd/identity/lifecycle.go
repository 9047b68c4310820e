package identity

import "time"

// Lifecycle is the soft-delete state of a record: Active, or Deleted at a time.
// The zero value is Active.
type Lifecycle struct {
	deleted   bool
	deletedAt time.Time
}

// Active returns the active lifecycle.
func Active() Lifecycle { return Lifecycle{} }

// Deleted returns a lifecycle deleted at the given instant.
func Deleted(at time.Time) Lifecycle {
	return Lifecycle{deleted: true, deletedAt: at.UTC()}
}

// LifecycleFromNullable maps a nullable deleted_at column.
func LifecycleFromNullable(deletedAt *time.Time) Lifecycle {
	if deletedAt == nil {
		return Active()
	}
	return Deleted(*deletedAt)
}

// IsActive reports whether the record is not deleted.
func (l Lifecycle) IsActive() bool { return !l.deleted }

// DeletedAt returns the deletion instant and true for deleted records.
func (l Lifecycle) DeletedAt() (time.Time, bool) {
	return l.deletedAt, l.deleted
}

// Nullable returns the value stored in a nullable deleted_at column.
func (l Lifecycle) Nullable() *time.Time {
	if !l.deleted {
		return nil
	}
	t := l.deletedAt
	return &t
}

func (l Lifecycle) String() string {
	if l.deleted {
		return "deleted"
	}
	return "active"
}
