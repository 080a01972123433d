package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates the endpoint answered with a STALL handshake.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates the endpoint answered with a NAK handshake.
	ErrNAK = errors.New("NAK received")

	// ErrNoResponse indicates a token drew no handshake at all (detached
	// device, address mismatch, or disabled endpoint).
	ErrNoResponse = errors.New("no handshake")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates the host sent more than the endpoint can hold.
	ErrOverrun = errors.New("data overrun")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an endpoint that is not open or does not exist.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates the hardware cannot represent the request.
	ErrNotSupported = errors.New("not supported")

	// ErrBusy indicates a transfer is already active on the endpoint.
	ErrBusy = errors.New("resource busy")

	// ErrNoMemory indicates endpoint buffer memory is exhausted.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack is not running.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoResources indicates no free hardware endpoint slot.
	ErrNoResources = errors.New("no resources available")

	// ErrQueueFull indicates the event queue dropped an event.
	ErrQueueFull = errors.New("event queue full")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")
)

// XferResult is the outcome a controller reports with a transfer-complete
// event.
type XferResult uint8

// Transfer results.
const (
	XferSuccess XferResult = iota // Transfer completed successfully
	XferFailed                    // Bus or hardware error
	XferStalled                   // Endpoint stalled
	XferTimeout                   // No completion within the allowed time
	XferInvalid                   // Result not set
)

// String returns a string representation of the transfer result.
func (r XferResult) String() string {
	switch r {
	case XferSuccess:
		return "success"
	case XferFailed:
		return "failed"
	case XferStalled:
		return "stalled"
	case XferTimeout:
		return "timeout"
	case XferInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Err returns the error corresponding to the transfer result.
func (r XferResult) Err() error {
	switch r {
	case XferSuccess:
		return nil
	case XferStalled:
		return ErrStall
	case XferTimeout:
		return ErrTimeout
	case XferInvalid:
		return ErrInvalidState
	default:
		return ErrProtocol
	}
}
