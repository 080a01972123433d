//go:build profile

package prof

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
	"time"
)

// cpuMutex guards the process-wide CPU profile.
var (
	cpuMutex  sync.Mutex
	cpuActive bool
)

// Session records the profiles selected by its Options.
type Session struct {
	opts    Options
	cpuFile *os.File
	server  *http.Server
	addr    string
	served  chan error

	stopOnce sync.Once
	stopErr  error
}

// Start begins a profiling session. Only one session at a time may record
// a CPU profile; a second one fails with ErrActive.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if opts.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}

	if opts.CPU != "" {
		if err := s.startCPU(); err != nil {
			return nil, err
		}
	}

	if opts.HTTP != "" {
		if err := s.serve(); err != nil {
			s.stopCPU()
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) startCPU() error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	if cpuActive {
		return ErrActive
	}
	f, err := os.Create(s.opts.CPU)
	if err != nil {
		return fmt.Errorf("prof: %w", err)
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("prof: %w", err)
	}
	s.cpuFile = f
	cpuActive = true
	return nil
}

func (s *Session) stopCPU() error {
	if s.cpuFile == nil {
		return nil
	}
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	rpprof.StopCPUProfile()
	cpuActive = false
	err := s.cpuFile.Close()
	s.cpuFile = nil
	return err
}

func (s *Session) serve() error {
	ln, err := net.Listen("tcp", s.opts.HTTP)
	if err != nil {
		return fmt.Errorf("prof: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.addr = ln.Addr().String()
	s.served = make(chan error, 1)
	go func() { s.served <- s.server.Serve(ln) }()
	return nil
}

// Addr returns the address of the pprof HTTP server, or the empty string
// when the session serves none.
func (s *Session) Addr() string { return s.addr }

// Stop ends the CPU profile, writes the snapshot profiles and shuts the
// HTTP server down. Later calls return the first call's result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		var errs []error
		errs = append(errs, s.stopCPU())
		for p, path := range s.opts.snapshots() {
			errs = append(errs, writeFile(p, path))
		}
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			errs = append(errs, s.server.Shutdown(ctx))
			cancel()
			if err := <-s.served; !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

func writeFile(p Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("prof: %w", err)
	}
	if err := Write(p, f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write writes snapshot profile p to w. debug 0 selects the protobuf
// format go tool pprof reads; 1 selects text.
func Write(p Profile, w io.Writer, debug int) error {
	if p == ProfileCPU {
		return fmt.Errorf("prof: %s is recorded by a session: %w", p, ErrInvalidProfile)
	}
	lp := rpprof.Lookup(string(p))
	if lp == nil {
		return fmt.Errorf("prof: %q: %w", string(p), ErrInvalidProfile)
	}
	return lp.WriteTo(w, debug)
}
