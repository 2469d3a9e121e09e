package probe

import (
	"context"
	"net/netip"
	"time"

	imsync "github.com/intermap/intermap/libs/sync"
	"github.com/intermap/intermap/types"
)

// MockProber is an injectable prober for tests. Unconfigured targets fail
// with ErrUnreachable.
type MockProber struct {
	mtx     imsync.Mutex
	results map[netip.Addr]Result
	errs    map[netip.Addr]error
	calls   []netip.Addr
}

var _ Prober = (*MockProber)(nil)

func NewMockProber() *MockProber {
	return &MockProber{
		results: make(map[netip.Addr]Result),
		errs:    make(map[netip.Addr]error),
	}
}

// SetPath makes target succeed with the given hop list.
func (m *MockProber) SetPath(target netip.Addr, hops ...types.Hop) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.results[target] = Result{Target: target, Hops: hops, Method: "mock"}
	delete(m.errs, target)
}

// SetError makes target fail with err.
func (m *MockProber) SetError(target netip.Addr, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.errs[target] = err
	delete(m.results, target)
}

// Calls returns every target probed so far, in order.
func (m *MockProber) Calls() []netip.Addr {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	out := make([]netip.Addr, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times target was probed.
func (m *MockProber) CallCount(target netip.Addr) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == target {
			n++
		}
	}
	return n
}

// Trace implements Prober.
func (m *MockProber) Trace(ctx context.Context, target netip.Addr, _ int, _ time.Duration) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.calls = append(m.calls, target)
	if err, ok := m.errs[target]; ok {
		return Result{}, err
	}
	if res, ok := m.results[target]; ok {
		return res, nil
	}
	return Result{}, ErrUnreachable
}
