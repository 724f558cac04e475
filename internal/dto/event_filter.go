package dto

import (
	"time"

	"evdetect/internal/model"
)

// EventFilters narrow the signal event history.
type EventFilters struct {
	Intersection string
	State        model.SignalState
	DateAfter    time.Time
	DateBefore   time.Time
	Limit        int
	Offset       int
}

// EventsData is a paginated response payload for the signal event history.
type EventsData struct {
	Events      []model.SignalEvent `json:"events"`
	Length      int                 `json:"length"`
	TotalPages  int                 `json:"totalPages"`
	CurrentPage int                 `json:"currentPage"`
	Limit       int                 `json:"pageSize"`
}
