package session

import "github.com/pion/webrtc/v4"

// candidateQueue buffers remote ICE candidates that arrive before the
// remote session description is installed. The queue is drained in arrival
// order exactly once; after that every candidate applies directly.
// Callers provide their own locking.
type candidateQueue struct {
	pending []webrtc.ICECandidateInit
	flushed bool
}

// buffer stores a candidate if the queue has not been flushed yet, and
// reports whether it did so. A false return means the caller must apply
// the candidate directly.
func (q *candidateQueue) buffer(candidate webrtc.ICECandidateInit) bool {
	if q.flushed {
		return false
	}
	q.pending = append(q.pending, candidate)
	return true
}

// drain marks the queue flushed and returns the buffered candidates in
// arrival order. Subsequent drains return nothing: candidates are never
// replayed.
func (q *candidateQueue) drain() []webrtc.ICECandidateInit {
	if q.flushed {
		return nil
	}
	q.flushed = true
	pending := q.pending
	q.pending = nil
	return pending
}
