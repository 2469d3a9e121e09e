package mobility

import (
	"context"
	"net/netip"

	imsync "github.com/intermap/intermap/libs/sync"
)

// StaticDetector is a Detector for tests: it returns whatever address was
// last set, or a configured error.
type StaticDetector struct {
	mtx  imsync.Mutex
	addr netip.Addr
	err  error
}

var _ Detector = (*StaticDetector)(nil)

func NewStaticDetector(addr netip.Addr) *StaticDetector {
	return &StaticDetector{addr: addr}
}

// SetAddr changes the address returned by subsequent detections.
func (d *StaticDetector) SetAddr(addr netip.Addr) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.addr = addr
	d.err = nil
}

// SetError makes subsequent detections fail.
func (d *StaticDetector) SetError(err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.err = err
}

// Detect implements Detector.
func (d *StaticDetector) Detect(context.Context) (netip.Addr, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.err != nil {
		return netip.Addr{}, d.err
	}
	return d.addr, nil
}
