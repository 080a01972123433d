package pkg

import (
	"errors"
	"testing"
)

func TestXferResult_String(t *testing.T) {
	tests := []struct {
		result XferResult
		want   string
	}{
		{XferSuccess, "success"},
		{XferFailed, "failed"},
		{XferStalled, "stalled"},
		{XferTimeout, "timeout"},
		{XferInvalid, "invalid"},
		{XferResult(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.result.String(); got != tt.want {
				t.Errorf("XferResult.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestXferResult_Err(t *testing.T) {
	tests := []struct {
		result  XferResult
		wantErr error
	}{
		{XferSuccess, nil},
		{XferStalled, ErrStall},
		{XferTimeout, ErrTimeout},
		{XferInvalid, ErrInvalidState},
		{XferFailed, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.result.String(), func(t *testing.T) {
			err := tt.result.Err()
			if tt.wantErr == nil && err != nil {
				t.Errorf("XferResult.Err() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("XferResult.Err() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	errs := []error{
		ErrStall,
		ErrNAK,
		ErrNoResponse,
		ErrTimeout,
		ErrCancelled,
		ErrOverrun,
		ErrProtocol,
		ErrNotConfigured,
		ErrInvalidEndpoint,
		ErrInvalidState,
		ErrInvalidRequest,
		ErrBufferTooSmall,
		ErrNotSupported,
		ErrBusy,
		ErrNoMemory,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
		ErrAlreadyRunning,
		ErrNotRunning,
		ErrInvalidParameter,
		ErrNoResources,
		ErrQueueFull,
		ErrReset,
	}

	for i := range errs {
		if errs[i] == nil {
			t.Fatalf("sentinel error %d is nil", i)
		}
		for j := i + 1; j < len(errs); j++ {
			if errors.Is(errs[i], errs[j]) {
				t.Errorf("errors %d and %d are not distinct: %v", i, j, errs[i])
			}
		}
	}
}
