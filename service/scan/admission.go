package scan

// AdmissionController bounds the number of concurrently in-flight
// scans. A request arriving at a saturated controller is rejected
// immediately; nothing is queued. The channel semaphore makes
// admit/complete events atomic relative to each other.
type AdmissionController struct {
	slots chan struct{}
}

// NewAdmissionController creates a controller that admits at most
// limit concurrent scans. A non-positive limit admits one at a time.
func NewAdmissionController(limit int) *AdmissionController {
	if limit < 1 {
		limit = 1
	}
	return &AdmissionController{slots: make(chan struct{}, limit)}
}

// TryAcquire claims a slot without blocking. It returns false when the
// limit is saturated; the caller must reject the request.
func (a *AdmissionController) TryAcquire() bool {
	select {
	case a.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot claimed by TryAcquire.
func (a *AdmissionController) Release() {
	select {
	case <-a.slots:
	default:
		// Release without a matching acquire is a programming error;
		// never block on it.
	}
}

// InFlight reports the number of currently admitted scans.
func (a *AdmissionController) InFlight() int {
	return len(a.slots)
}

// Limit reports the configured concurrency limit.
func (a *AdmissionController) Limit() int {
	return cap(a.slots)
}
