// Package kernel compiles and caches the user's model-kernel program —
// fixed library sources plus a dynamically generated source fragment —
// behind a hash-keyed cache and the Idle/Compiling/Valid/Invalid state
// machine spec.md §4.7 describes.
//
// The cache itself (hash-keyed lookup under a mutex; it keeps no
// hit/miss counters) generalizes gogpu-gg's PipelineCacheCore
// (backend/native/pipeline_cache_core.go): render/compute pipeline
// caching keyed by a descriptor hash becomes model-kernel program
// caching keyed by (library sources, device, defines, replacement
// table). Bounded retention for compiled binaries beyond the single
// "last successful" slot spec.md names uses an LRU
// (github.com/hashicorp/golang-lru), grounded on its presence in the
// retrieval pack's noisetorch-NoiseTorch dependency surface.
package kernel

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gladius-go/slicer/internal/cerrors"
)

// State is a Program's lifecycle state, per spec.md §4.7's table.
type State int

const (
	StateIdle State = iota
	StateCompiling
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateCompiling:
		return "compiling"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return "idle"
	}
}

// Mode selects one of spec.md §4.7's two compile strategies.
type Mode int

const (
	// ModeFull compiles one program from every source.
	ModeFull Mode = iota
	// ModeLibraryLink compiles and links a reusable library once, then
	// links per-rebuild with only the small dynamic fragment.
	ModeLibraryLink
)

// Source bundles everything the cache key and the compiler need.
type Source struct {
	LibrarySources []string
	DynamicSource  string
	Defines        []string
	ExtraDefine    string
	Replacements   map[string]string
	Device         string
}

// applyReplacements returns src with every Replacements entry applied,
// in a deterministic (sorted-key) order so the result — and therefore
// the compiled binary — is independent of map iteration order.
func (s Source) applyReplacements(src string) string {
	if len(s.Replacements) == 0 {
		return src
	}
	keys := make([]string, 0, len(s.Replacements))
	for k := range s.Replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := src
	for _, k := range keys {
		out = replaceAll(out, k, s.Replacements[k])
	}
	return out
}

func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	var b []byte
	for {
		idx := indexOf(s, old)
		if idx < 0 {
			b = append(b, s...)
			break
		}
		b = append(b, s[:idx]...)
		b = append(b, new...)
		s = s[idx+len(old):]
	}
	return string(b)
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

// FullSource assembles the complete textual program: concatenated
// library sources, then the dynamic fragment, then any extra define
// appended, finally with every replacement applied.
func (s Source) FullSource() string {
	out := ""
	for _, lib := range s.LibrarySources {
		out += lib
		out += "\n"
	}
	out += s.DynamicSource
	if s.ExtraDefine != "" {
		out += "\n" + s.ExtraDefine
	}
	return s.applyReplacements(out)
}

// hashKey computes spec.md §4.7's 64-bit cache key: concatenated
// library sources, device name, the full preprocessor/define string,
// and the replacement table, combined with fnv64a the same way
// gogpu-gg's HashRenderPipelineDescriptor combines descriptor fields.
func hashKey(s Source) uint64 {
	h := fnv.New64a()
	for _, lib := range s.LibrarySources {
		_, _ = h.Write([]byte(lib))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte(s.Device))
	_, _ = h.Write([]byte{0})
	for _, d := range s.Defines {
		_, _ = h.Write([]byte(d))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte(s.ExtraDefine))
	_, _ = h.Write([]byte{0})

	keys := make([]string, 0, len(s.Replacements))
	for k := range s.Replacements {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(s.Replacements[k]))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Binary is the compiler's output: an opaque handle the Program stores
// and hands back to Dispatch. Its concrete type is whatever the
// Compiler implementation produces (a *gpucore-bound pipeline object in
// production, a fake in tests).
type Binary any

// Compiler performs the actual textual-source-to-device-binary
// compilation; kernel stays decoupled from gpucore so it can be
// exercised without a real device.
type Compiler interface {
	Compile(ctx context.Context, fullSource string, mode Mode) (Binary, error)
}

// Kernel is a lazily-created, per-method dispatch handle cached until
// the next successful rebuild clears it, per spec.md §4.7.
type Kernel struct {
	Name   string
	Binary Binary
}

// Program owns one model-kernel's compile cache and state machine.
type Program struct {
	compiler Compiler

	mu      sync.Mutex
	state   State
	lastKey uint64
	binary  Binary
	mode    Mode

	kernels map[string]*Kernel // lazy per-method-name cache, cleared on rebuild

	history *lru.Cache // bounded retention of recently-compiled binaries, keyed by hash
}

const defaultHistorySize = 16

// NewProgram constructs an Idle Program.
func NewProgram(compiler Compiler) *Program {
	h, _ := lru.New(defaultHistorySize)
	return &Program{compiler: compiler, state: StateIdle, kernels: make(map[string]*Kernel), history: h}
}

// State returns the Program's current lifecycle state.
func (p *Program) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Valid reports whether the Program currently holds a successfully
// compiled binary.
func (p *Program) Valid() bool {
	return p.State() == StateValid
}

// Invalidate forces the Program back to Invalid, clearing the kernel
// cache and the compiled-binary history so the next Recompile compiles
// afresh even for an unchanged key, per spec.md §4.7's
// "source change / invalidate()" transition.
func (p *Program) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateInvalid
	p.kernels = make(map[string]*Kernel)
	p.history.Purge()
}

// Recompile runs spec.md §4.7's cache-key short-circuit, then performs
// a blocking compile in the requested mode. A cache hit (key equals the
// last-successful key) fires immediately with valid=true and performs
// no recompilation.
func (p *Program) Recompile(ctx context.Context, s Source, mode Mode) error {
	key := hashKey(s)

	p.mu.Lock()
	if p.state == StateValid && key == p.lastKey {
		p.mu.Unlock()
		return nil
	}
	if cached, ok := p.history.Get(key); ok {
		p.binary = cached
		p.lastKey = key
		p.mode = mode
		p.state = StateValid
		p.kernels = make(map[string]*Kernel)
		p.mu.Unlock()
		return nil
	}
	p.state = StateCompiling
	p.mu.Unlock()

	bin, err := p.compiler.Compile(ctx, s.FullSource(), mode)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateInvalid
		return cerrors.New(cerrors.KindDeviceFault, "kernel.Recompile", err)
	}
	p.binary = bin
	p.lastKey = key
	p.mode = mode
	p.state = StateValid
	p.kernels = make(map[string]*Kernel)
	p.history.Add(key, bin)
	return nil
}

// RecompileAsync runs Recompile on a new goroutine and reports the
// result (or ctx cancellation) on the returned channel — the
// "background" form spec.md §4.7 names alongside the blocking one.
func (p *Program) RecompileAsync(ctx context.Context, s Source, mode Mode) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Recompile(ctx, s, mode)
	}()
	return done
}

// FinishCompilation blocks until done fires, the join point spec.md
// §4.7 names for the background compile form.
func FinishCompilation(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return cerrors.New(cerrors.KindCanceled, "kernel.FinishCompilation", ctx.Err())
	}
}

// Dispatch looks up (creating and caching lazily if needed) the named
// kernel-object and invokes run via the caller-supplied runner. It is a
// no-op returning nil when the Program is not currently Valid.
func (p *Program) Dispatch(ctx context.Context, name string, origin, rangeSize [3]int, run func(k *Kernel, origin, rangeSize [3]int) error, args ...any) error {
	p.mu.Lock()
	if p.state != StateValid {
		p.mu.Unlock()
		return nil
	}
	k, ok := p.kernels[name]
	if !ok {
		k = &Kernel{Name: name, Binary: p.binary}
		p.kernels[name] = k
	}
	p.mu.Unlock()

	return run(k, origin, rangeSize)
}
