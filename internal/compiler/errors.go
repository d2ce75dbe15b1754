package compiler

import "fmt"

// UnknownFieldError reports a report column/filter/group key that does not
// resolve against the active field catalog.
type UnknownFieldError struct {
	FieldKey string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field: %s", e.FieldKey)
}

// InvalidRangeError reports a time-series report whose filters omit a
// bounded business-date range.
type InvalidRangeError struct {
	Dataset string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("dataset %s is time-series and requires a bounded date range filter", e.Dataset)
}

// RangeTooWideError reports a date range wider than the allowed maximum.
type RangeTooWideError struct {
	Days    int
	MaxDays int
}

func (e *RangeTooWideError) Error() string {
	return fmt.Sprintf("date range spans %d days, maximum is %d", e.Days, e.MaxDays)
}

// UngroupedColumnError reports a selected non-aggregated column that is
// missing from GROUP BY.
type UngroupedColumnError struct {
	FieldKey string
}

func (e *UngroupedColumnError) Error() string {
	return fmt.Sprintf("column %s is not aggregated and not in group_by", e.FieldKey)
}
