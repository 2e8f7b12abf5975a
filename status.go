package nadi

import (
	stderrors "errors"
	"fmt"

	"github.com/skunkforce/node-agnostic-datastream-interface/errors"
)

// Status is the numeric result code of an interface operation. Zero is
// success, negative values are the standardized failure codes.
type Status int32

const (
	StatusOK             Status = 0
	StatusInvalidNode    Status = -1
	StatusInvalidMessage Status = -2
	StatusNotInitialized Status = -3
	StatusInvalidChannel Status = -4
	StatusBufferTooSmall Status = -5
)

// String returns the canonical name of the status code.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidNode:
		return "INVALID_NODE"
	case StatusInvalidMessage:
		return "INVALID_MESSAGE"
	case StatusNotInitialized:
		return "NOT_INITIALIZED"
	case StatusInvalidChannel:
		return "INVALID_CHANNEL"
	case StatusBufferTooSmall:
		return "BUFFER_TOO_SMALL"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Err returns the sentinel error for a failure status, nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusInvalidNode:
		return errors.ErrInvalidNode
	case StatusInvalidMessage:
		return errors.ErrInvalidMessage
	case StatusNotInitialized:
		return errors.ErrNotInitialized
	case StatusInvalidChannel:
		return errors.ErrInvalidChannel
	case StatusBufferTooSmall:
		return errors.ErrBufferTooSmall
	}
	return fmt.Errorf("unknown status %d", int32(s))
}

// StatusOf maps an error to its status code. A nil error is StatusOK; the
// most specific matching sentinel wins, and errors outside the standardized
// set report as StatusInvalidMessage.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case stderrors.Is(err, errors.ErrNotInitialized):
		return StatusNotInitialized
	case stderrors.Is(err, errors.ErrInvalidNode):
		return StatusInvalidNode
	case stderrors.Is(err, errors.ErrInvalidChannel):
		return StatusInvalidChannel
	case stderrors.Is(err, errors.ErrBufferTooSmall):
		return StatusBufferTooSmall
	case stderrors.Is(err, errors.ErrInvalidMessage):
		return StatusInvalidMessage
	}
	return StatusInvalidMessage
}
