package world

// Metrics is a point-in-time view of a map's chunk churn. Maps are owned by a
// single goroutine; callers that publish these across goroutines copy them.
type Metrics struct {
	Resident  int    `json:"resident_chunks"`
	Created   uint64 `json:"chunks_created_total"`
	Destroyed uint64 `json:"chunks_destroyed_total"`
	Updates   uint64 `json:"updates_total"`

	LastUpdateMS float64 `json:"last_update_ms"`
}

// Add accumulates another map's counters.
func (m Metrics) Add(o Metrics) Metrics {
	m.Resident += o.Resident
	m.Created += o.Created
	m.Destroyed += o.Destroyed
	m.Updates += o.Updates
	if o.LastUpdateMS > m.LastUpdateMS {
		m.LastUpdateMS = o.LastUpdateMS
	}
	return m
}
