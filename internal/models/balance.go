package models

import "time"

// Balance is a single asset balance on a venue.
type Balance struct {
	Venue     string    `json:"venue" db:"venue"`
	Asset     string    `json:"asset" db:"asset"`
	Free      float64   `json:"free" db:"free"`
	Locked    float64   `json:"locked" db:"locked"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Total returns free+locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}
