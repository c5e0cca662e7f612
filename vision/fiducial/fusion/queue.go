// Package fusion tracks markers seen by several cameras with known ground transforms and fuses
// their recent poses into one ground frame estimate per marker.
package fusion

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/markerpose/vision/fiducial"
)

// A PoseReading is an observation mapped into the ground frame and stamped when it was queued.
type PoseReading struct {
	fiducial.Observation
	Queued   time.Time
	Position r3.Vector
	Heading  r3.Vector
}

// A ReadingQueue holds the recent readings of one marker ordered by queue time. It never holds
// more than its maximum length; expired readings are dropped when the queue is next read.
type ReadingQueue struct {
	mu       sync.Mutex
	maxLen   int
	readings []PoseReading
}

// NewReadingQueue returns a queue holding at most maxLen readings.
func NewReadingQueue(maxLen int) *ReadingQueue {
	if maxLen < 1 {
		maxLen = 1
	}
	return &ReadingQueue{maxLen: maxLen}
}

// Push inserts r in time order, evicting the oldest readings beyond the maximum length.
func (q *ReadingQueue) Push(r PoseReading) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := sort.Search(len(q.readings), func(i int) bool {
		return q.readings[i].Queued.After(r.Queued)
	})
	q.readings = append(q.readings, PoseReading{})
	copy(q.readings[i+1:], q.readings[i:])
	q.readings[i] = r
	if over := len(q.readings) - q.maxLen; over > 0 {
		q.readings = append(q.readings[:0:0], q.readings[over:]...)
	}
}

// Len returns the number of queued readings, expired or not.
func (q *ReadingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.readings)
}

// Recent drops readings at least maxAge old at now and returns a copy of the rest.
func (q *ReadingQueue) Recent(now time.Time, maxAge time.Duration) []PoseReading {
	q.mu.Lock()
	defer q.mu.Unlock()
	expired := sort.Search(len(q.readings), func(i int) bool {
		return now.Sub(q.readings[i].Queued) < maxAge
	})
	if expired > 0 {
		q.readings = append(q.readings[:0:0], q.readings[expired:]...)
	}
	return append([]PoseReading(nil), q.readings...)
}
