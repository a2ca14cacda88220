package models

import "time"

// Names of the recurring jobs whose last run is recorded.
const (
	EventOffersRepublished = "offers-republished"
	EventOffersRefreshed   = "offers-refreshed"
)

// Event records when a recurring job last ran so the schedule survives
// a restart.
type Event struct {
	Name string `gorm:"primary_key"`
	Time time.Time
}
