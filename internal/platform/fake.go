package platform

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests. Liveness can be scripted as a
// sequence of values per handle so tests can simulate false idles and
// late completions without timers.
type Fake struct {
	mu sync.Mutex

	nextID      int
	transcripts map[Handle]*Transcript
	liveness    map[Handle][]Liveness
	aborted     map[Handle]bool

	dispatches []DispatchRecord

	// Error injection. When set, the corresponding call fails.
	CreateErr   error
	DispatchErr error
	FetchErr    error
	PollErr     error
	AbortErr    error
}

// DispatchRecord captures the arguments of one DispatchPrompt call.
type DispatchRecord struct {
	Handle  Handle
	Role    string
	Content string
	Model   string
}

// NewFake returns an empty fake client.
func NewFake() *Fake {
	return &Fake{
		transcripts: make(map[Handle]*Transcript),
		liveness:    make(map[Handle][]Liveness),
		aborted:     make(map[Handle]bool),
	}
}

// SetTranscript installs the transcript returned for handle.
func (f *Fake) SetTranscript(handle Handle, t *Transcript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[handle] = t
}

// ScriptLiveness queues liveness values for handle. Each PollLiveness
// call consumes one; the last value repeats once the queue drains.
func (f *Fake) ScriptLiveness(handle Handle, states ...Liveness) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveness[handle] = append(f.liveness[handle], states...)
}

// Dispatched returns a copy of all DispatchPrompt calls so far.
func (f *Fake) Dispatched() []DispatchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DispatchRecord, len(f.dispatches))
	copy(out, f.dispatches)
	return out
}

// Aborted reports whether Abort was called for handle.
func (f *Fake) Aborted(handle Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[handle]
}

func (f *Fake) CreateSession(_ context.Context, _ Handle, _ string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	h := Handle(fmt.Sprintf("fake-session-%d", f.nextID))
	f.transcripts[h] = &Transcript{Handle: h}
	return h, nil
}

func (f *Fake) DispatchPrompt(_ context.Context, handle Handle, role, content, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DispatchErr != nil {
		return f.DispatchErr
	}
	f.dispatches = append(f.dispatches, DispatchRecord{
		Handle:  handle,
		Role:    role,
		Content: content,
		Model:   model,
	})
	return nil
}

func (f *Fake) FetchTranscript(_ context.Context, handle Handle) (*Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	t, ok := f.transcripts[handle]
	if !ok {
		return nil, fmt.Errorf("no transcript for handle %q", handle)
	}
	return t, nil
}

func (f *Fake) PollLiveness(_ context.Context, handles []Handle) (map[Handle]Liveness, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	out := make(map[Handle]Liveness, len(handles))
	for _, h := range handles {
		queue := f.liveness[h]
		switch len(queue) {
		case 0:
			out[h] = LivenessUnknown
		case 1:
			out[h] = queue[0]
		default:
			out[h] = queue[0]
			f.liveness[h] = queue[1:]
		}
	}
	return out, nil
}

func (f *Fake) Abort(_ context.Context, handle Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AbortErr != nil {
		return f.AbortErr
	}
	f.aborted[handle] = true
	return nil
}

var _ Client = (*Fake)(nil)
