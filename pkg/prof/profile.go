package prof

import "errors"

// Profiling errors.
var (
	// ErrDisabled indicates the binary was built without the "profile" tag.
	ErrDisabled = errors.New("profiling not compiled in (build with -tags profile)")

	// ErrActive indicates a CPU profile is already being recorded.
	ErrActive = errors.New("cpu profile already active")

	// ErrInvalidProfile indicates an unknown profile, or ProfileCPU where
	// only snapshot profiles are accepted.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile names a runtime/pprof profile.
type Profile string

// Profiles.
const (
	ProfileCPU          Profile = "cpu"
	ProfileHeap         Profile = "heap"
	ProfileAllocs       Profile = "allocs"
	ProfileGoroutine    Profile = "goroutine"
	ProfileThreadCreate Profile = "threadcreate"
	ProfileBlock        Profile = "block"
	ProfileMutex        Profile = "mutex"
)

func (p Profile) String() string { return string(p) }

// Options selects what a session records. Empty paths disable that
// profile.
type Options struct {
	// CPU is the CPU profile path, recorded from Start to Stop.
	CPU string

	// Heap, Goroutine, Block and Mutex are snapshot paths written at Stop.
	Heap      string
	Goroutine string
	Block     string
	Mutex     string

	// HTTP is a listen address for the pprof handlers, such as
	// "localhost:6060". Port 0 picks a free port; see Session.Addr.
	HTTP string
}

// Enabled reports whether o requests anything.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Goroutine != "" ||
		o.Block != "" || o.Mutex != "" || o.HTTP != ""
}

// snapshots returns the snapshot profiles o requests with their paths.
func (o Options) snapshots() map[Profile]string {
	m := make(map[Profile]string)
	for p, path := range map[Profile]string{
		ProfileHeap:      o.Heap,
		ProfileGoroutine: o.Goroutine,
		ProfileBlock:     o.Block,
		ProfileMutex:     o.Mutex,
	} {
		if path != "" {
			m[p] = path
		}
	}
	return m
}
