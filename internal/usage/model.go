// Package usage maintains the per-user storage ledger: daily deltas computed
// from the entity store, folded into monthly and yearly summaries.
package usage

import (
	"errors"
	"time"
)

var (
	// ErrIncompleteRollupWindow is returned when a monthly or yearly fold runs
	// before every lower-granularity period of its window has been rolled up.
	ErrIncompleteRollupWindow = errors.New("usage: incomplete rollup window")
	// ErrOpenPeriod is returned when a rollup targets a period that has not ended.
	ErrOpenPeriod = errors.New("usage: period has not ended")
	// ErrInvalidUserID indicates an empty user identifier.
	ErrInvalidUserID = errors.New("usage: invalid user id")
)

// Type is the granularity of a ledger row.
type Type string

const (
	// TypeDaily rows hold the net delta of one calendar day.
	TypeDaily Type = "daily"
	// TypeMonthly rows hold the folded daily deltas of a month.
	TypeMonthly Type = "monthly"
	// TypeYearly rows hold the folded monthly deltas of a year.
	TypeYearly Type = "yearly"
)

// LedgerEntry is a signed byte delta for one user and period.
type LedgerEntry struct {
	ID               uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	UserID           string `gorm:"column:user_id;size:190;not null"`
	Delta            int64  `gorm:"column:delta;not null"`
	Period           string `gorm:"column:period;size:10;not null"`
	Type             Type   `gorm:"column:type;size:16;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LedgerEntry) TableName() string {
	return "usage_ledger"
}

// RollupRun marks a period whose rollup finished.
type RollupRun struct {
	Type               Type   `gorm:"column:type;primaryKey;size:16"`
	Period             string `gorm:"column:period;primaryKey;size:10"`
	CompletedAtSeconds int64  `gorm:"column:completed_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RollupRun) TableName() string {
	return "usage_rollup_runs"
}

// Usage is the storage a user currently consumes, in bytes.
type Usage struct {
	Drive  int64 `json:"drive"`
	Backup int64 `json:"backup"`
	Total  int64 `json:"total"`
}

// RollupReport summarises one rollup run.
type RollupReport struct {
	Type        Type   `json:"type"`
	Period      string `json:"period"`
	Users       int64  `json:"users"`
	RowsWritten int64  `json:"rows_written"`
	Batches     int    `json:"batches"`

	// AlreadyRolledUp reports a run skipped because the period was completed earlier.
	AlreadyRolledUp bool `json:"already_rolled_up,omitempty"`
}

// periodKey renders the calendar date of t in UTC, which is how periods are stored.
func periodKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	year, month, _ := t.UTC().Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}
