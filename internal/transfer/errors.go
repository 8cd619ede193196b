package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocationFailure means no staging buffer could be obtained. No device
	// I/O was attempted.
	ErrAllocationFailure = errors.New("staging buffer allocation failed")
	// ErrBufferTransferFault means copying to or from the caller's memory failed.
	ErrBufferTransferFault = errors.New("buffer transfer fault")
	// ErrDeviceIOFailure means the device failed a chunk. Progress made before
	// the failing chunk is still reported.
	ErrDeviceIOFailure = errors.New("device i/o failure")
	// ErrInvalidRequest means the request was rejected before reaching the device.
	ErrInvalidRequest = errors.New("invalid request")
)

// Status is the closed set of outcomes a transfer reports to its caller.
type Status uint32

const (
	StatusOK Status = iota
	StatusAllocationFailure
	StatusBufferTransferFault
	StatusDeviceIOFailure
	StatusInvalidRequest
)

var statusNames = [...]string{
	StatusOK:                  "ok",
	StatusAllocationFailure:   "allocation_failure",
	StatusBufferTransferFault: "buffer_transfer_fault",
	StatusDeviceIOFailure:     "device_io_failure",
	StatusInvalidRequest:      "invalid_request",
}

var statusErrors = [...]error{
	StatusOK:                  nil,
	StatusAllocationFailure:   ErrAllocationFailure,
	StatusBufferTransferFault: ErrBufferTransferFault,
	StatusDeviceIOFailure:     ErrDeviceIOFailure,
	StatusInvalidRequest:      ErrInvalidRequest,
}

func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("status(%d)", uint32(s))
	}

	return statusNames[s]
}

// Err returns the sentinel error for the status, nil for StatusOK.
func (s Status) Err() error {
	if !s.Valid() {
		return fmt.Errorf("unknown transfer status %d", uint32(s))
	}

	return statusErrors[s]
}

// StatusOf maps an error returned by Engine.Execute onto its Status.
// Errors that carry none of the transfer sentinels are reported as device
// failures.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrAllocationFailure):
		return StatusAllocationFailure
	case errors.Is(err, ErrBufferTransferFault):
		return StatusBufferTransferFault
	case errors.Is(err, ErrInvalidRequest):
		return StatusInvalidRequest
	default:
		return StatusDeviceIOFailure
	}
}
