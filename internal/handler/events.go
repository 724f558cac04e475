package handler

import (
	"net/http"
	"strings"

	"evdetect/internal/dto"
	"evdetect/internal/logger"
	"evdetect/internal/model"
	"evdetect/internal/repository"
)

// EventsHandler returns the preemption history, newest first.
func EventsHandler(logger *logger.Logger, eventRepo repository.SignalEventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, limit, offset := paging(r, 50)

		filter := &dto.EventFilters{
			Intersection: q.Get("intersection"),
			DateAfter:    parseDate(q.Get("dateAfter")),
			DateBefore:   parseDate(q.Get("dateBefore")),
			Limit:        limit,
			Offset:       offset,
		}
		switch state := model.SignalState(strings.ToUpper(q.Get("state"))); state {
		case "":
		case model.SignalRed, model.SignalGreen:
			filter.State = state
		default:
			writeError(w, logger, http.StatusBadRequest, "state must be RED or GREEN")
			return
		}

		events, err := eventRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying signal events: %v", err)
			writeError(w, logger, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		total, err := eventRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting signal events: %v", err)
			total = len(events)
		}
		if events == nil {
			events = []model.SignalEvent{}
		}

		writeJSON(w, logger, http.StatusOK, dto.EventsData{
			Events:      events,
			Length:      total,
			TotalPages:  totalPages(total, limit),
			CurrentPage: page,
			Limit:       limit,
		})
	}
}
