// Package prof records pprof profiles of a running usbcore process.
//
// Profiling is compiled in with the "profile" build tag:
//
//	go build -tags profile ./cmd/usbsim
//
// Without the tag, Start reports ErrDisabled for any non-empty Options,
// and Write reports ErrDisabled, so callers can keep their profiling
// flags without carrying the runtime/pprof machinery.
//
// A Session covers one run:
//
//	s, err := prof.Start(prof.Options{CPU: "cpu.prof", Heap: "heap.prof"})
//	if err != nil {
//		return err
//	}
//	defer s.Stop()
//
// Setting Options.HTTP serves the net/http/pprof handlers on that address
// for the lifetime of the session. The handlers are registered on a
// private mux; nothing is added to http.DefaultServeMux.
package prof
