package mission

import (
	"time"

	"github.com/skylane/fleetcore/internal/corelog"
)

// admissionLock is the registry's coarse-grained serializing gate,
// adapted from vice's LoggingMutex: a one-slot channel used as a mutex
// that logs slow
// acquisitions and long holds instead of failing silently, since a
// stuck admission lock would otherwise manifest only as scheduling
// calls mysteriously hanging.
type admissionLock struct {
	ch  chan struct{}
	lg  *corelog.Logger
	acq time.Time
}

func newAdmissionLock(lg *corelog.Logger) *admissionLock {
	return &admissionLock{ch: make(chan struct{}, 1), lg: lg}
}

func (l *admissionLock) Lock() {
	start := time.Now()
	select {
	case l.ch <- struct{}{}:
	default:
		l.lg.Debugf("waiting on mission admission lock")
		l.ch <- struct{}{}
	}
	l.acq = time.Now()
	if wait := l.acq.Sub(start); wait > time.Second {
		l.lg.Warnf("long wait for mission admission lock: %s", wait)
	}
}

func (l *admissionLock) Unlock() {
	if held := time.Since(l.acq); held > time.Second {
		l.lg.Warnf("mission admission lock held for %s", held)
	}
	<-l.ch
}
