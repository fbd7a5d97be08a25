package model

import "time"

// CheckpointVersion is the current on-disk checkpoint format.
const CheckpointVersion = 1

// Checkpoint is the durable progress snapshot of a job. It is written as a
// whole unit; a resumed job continues at LastRow+1.
type Checkpoint struct {
	Version        int               `json:"version"`
	JobID          string            `json:"job_id"`
	Settings       JobSettings       `json:"settings"`
	Signature      string            `json:"signature"`
	LastRow        int               `json:"last_row"`
	CumulativeCost float64           `json:"cumulative_cost"`
	Statuses       map[int]RowStatus `json:"statuses"`
	Records        []MerchantRecord  `json:"records"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Completed returns the number of rows with a terminal status.
func (c *Checkpoint) Completed() int {
	n := 0
	for _, s := range c.Statuses {
		if s.Terminal() {
			n++
		}
	}
	return n
}

// Remaining returns the number of rows left in the configured range.
func (c *Checkpoint) Remaining() int {
	r := c.Settings.EndRow - c.LastRow
	if r < 0 {
		return 0
	}
	return r
}
