package transfer

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, transfer.ErrTransferFailed) to check
// for any failed attempt.
var (
	ErrTransferFailed = errors.New("transfer: download failed")
	ErrInvalidName    = errors.New("transfer: unusable local file name")
	ErrIdleTimeout    = errors.New("transfer: no data received within read timeout")
	ErrRangeMismatch  = errors.New("transfer: server resumed past the local file end")
	ErrLocalLarger    = errors.New("transfer: local file is larger than the remote file")
)

// TransferError describes one failed download attempt. StatusCode is the HTTP
// status of the content response, or 0 when no response was received. Err is
// the underlying cause, if any. The partial file is left in place.
type TransferError struct {
	Name       string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("transfer: %s: HTTP %d: %v", e.Name, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("transfer: %s: %v", e.Name, e.Err)
	default:
		return fmt.Sprintf("transfer: %s: HTTP %d", e.Name, e.StatusCode)
	}
}

// Unwrap exposes both ErrTransferFailed and the cause to errors.Is/As.
func (e *TransferError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransferFailed}
	}

	return []error{ErrTransferFailed, e.Err}
}
