package bulkfetch

import "fmt"

// InvalidRangeError is returned before any I/O when the requested range (or an
// explicit period) cannot be planned.
type InvalidRangeError struct {
	Start  Period
	End    Period
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("bulkfetch: invalid range %s..%s: %s", e.Start, e.End, e.Reason)
}

// StorageError means the output or staging directory cannot be created or
// written. It aborts the whole run.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("bulkfetch: storage %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// UnavailableError records that the origin has no data for a period.
type UnavailableError struct {
	Period     Period
	StatusCode int
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("bulkfetch: %s unavailable (status %d)", e.Period, e.StatusCode)
}

// TransferError wraps the network, timeout or local I/O error that ended one
// task's retrieval.
type TransferError struct {
	Period Period
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("bulkfetch: transfer %s: %v", e.Period, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
