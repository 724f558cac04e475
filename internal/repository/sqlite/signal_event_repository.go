package sqlite

import (
	"fmt"

	"evdetect/internal/dto"
	"evdetect/internal/model"
)

// SignalEventRepository stores preemption transitions.
type SignalEventRepository struct {
	db *DB
}

func NewSignalEventRepository(db *DB) *SignalEventRepository {
	return &SignalEventRepository{db: db}
}

// Insert stores one signal event.
func (r *SignalEventRepository) Insert(e *model.SignalEvent) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO signal_events (id, intersection, camera, state, reason, confidence, publish_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Intersection, e.Camera, string(e.State), e.Reason, e.Confidence, e.PublishError, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert signal event: %w", err)
	}
	return nil
}

func eventWhere(filter *dto.EventFilters) (string, []interface{}) {
	clause := ` FROM signal_events WHERE 1=1`
	args := []interface{}{}
	if filter == nil {
		return clause, args
	}

	if filter.Intersection != "" {
		clause += " AND intersection = ?"
		args = append(args, filter.Intersection)
	}
	if filter.State != "" {
		clause += " AND state = ?"
		args = append(args, string(filter.State))
	}
	if !filter.DateAfter.IsZero() {
		clause += " AND DATE(created_at) >= DATE(?)"
		args = append(args, filter.DateAfter.Format("2006-01-02"))
	}
	if !filter.DateBefore.IsZero() {
		clause += " AND DATE(created_at) <= DATE(?)"
		args = append(args, filter.DateBefore.Format("2006-01-02"))
	}
	return clause, args
}

// GetAll lists events newest first.
func (r *SignalEventRepository) GetAll(filter *dto.EventFilters) ([]model.SignalEvent, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := eventWhere(filter)
	query := `SELECT id, intersection, camera, state, reason, confidence, publish_error, created_at` +
		where + ` ORDER BY created_at DESC, rowid DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signal events: %w", err)
	}
	defer rows.Close()

	events := []model.SignalEvent{}
	for rows.Next() {
		var e model.SignalEvent
		var state string
		if err := rows.Scan(&e.ID, &e.Intersection, &e.Camera, &state, &e.Reason, &e.Confidence, &e.PublishError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal event: %w", err)
		}
		e.State = model.SignalState(state)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetTotalCount counts events matching the filter.
func (r *SignalEventRepository) GetTotalCount(filter *dto.EventFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := eventWhere(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*)`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count signal events: %w", err)
	}
	return count, nil
}

// CountActivationsByIntersection counts GREEN transitions per intersection.
func (r *SignalEventRepository) CountActivationsByIntersection() (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	counts := make(map[string]int)
	err := collectCounts(r.db.Conn(), `
		SELECT intersection, COUNT(*) FROM signal_events
		WHERE state = 'GREEN'
		GROUP BY intersection
	`, counts)
	if err != nil {
		return nil, fmt.Errorf("failed to count activations: %w", err)
	}
	return counts, nil
}
