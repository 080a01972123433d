//go:build !profile

package prof

import "io"

// Session is an inactive profiling session.
type Session struct{}

// Start returns an inactive session. It fails with ErrDisabled when opts
// requests any profile.
func Start(opts Options) (*Session, error) {
	if opts.Enabled() {
		return nil, ErrDisabled
	}
	return &Session{}, nil
}

// Addr returns the empty string.
func (s *Session) Addr() string { return "" }

// Stop does nothing.
func (s *Session) Stop() error { return nil }

// Write returns ErrDisabled.
func Write(Profile, io.Writer, int) error { return ErrDisabled }
