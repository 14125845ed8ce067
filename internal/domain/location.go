package domain

import "time"

// LocationSample is a single geolocation fix. Optional readings are
// pointers so an absent value is distinguishable from zero.
type LocationSample struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed,omitempty"`    // m/s
	Heading   *float64  `json:"heading,omitempty"`  // degrees, 0-360
	Accuracy  *float64  `json:"accuracy,omitempty"` // meters
	Timestamp time.Time `json:"timestamp"`
}
