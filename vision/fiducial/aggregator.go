package fiducial

import (
	"sort"

	"github.com/samber/lo"
)

// An Aggregator collects the observations of one capture session grouped by marker id and
// counts the frames they came from. It is owned by a single goroutine.
type Aggregator struct {
	byID   map[int][]Observation
	frames int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{byID: map[int][]Observation{}}
}

// AddFrame records the observations of one processed frame. Frames without any markers still
// count.
func (a *Aggregator) AddFrame(observations []Observation) {
	a.frames++
	for _, o := range observations {
		a.byID[o.ID] = append(a.byID[o.ID], o)
	}
}

// Frames returns the number of frames processed.
func (a *Aggregator) Frames() int {
	return a.frames
}

// IDs returns every marker id seen, ascending.
func (a *Aggregator) IDs() []int {
	ids := lo.Keys(a.byID)
	sort.Ints(ids)
	return ids
}

// Observations returns a copy of the observations of marker id.
func (a *Aggregator) Observations(id int) []Observation {
	return append([]Observation(nil), a.byID[id]...)
}

// Statistics computes the statistics of marker id.
func (a *Aggregator) Statistics(id int) (*Statistics, error) {
	return ComputeStatistics(id, a.byID[id])
}

// AllStatistics computes the statistics of every marker seen, in id order.
func (a *Aggregator) AllStatistics() ([]*Statistics, error) {
	ids := a.IDs()
	all := make([]*Statistics, 0, len(ids))
	for _, id := range ids {
		s, err := a.Statistics(id)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	return all, nil
}
