package store

import (
	"database/sql"
	"time"
)

// PhaseSummary aggregates the timings of one phase.
type PhaseSummary struct {
	Phase string        `json:"phase"`
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	Max   time.Duration `json:"max"`
}

// TimingRepository stores per-phase durations.
type TimingRepository struct {
	db *sql.DB
}

// Timings returns the timing repository for this store.
func (s *Store) Timings() *TimingRepository {
	return &TimingRepository{db: s.db}
}

// Insert records one sample.
func (r *TimingRepository) Insert(sessionID, phase string, d time.Duration, at time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO timings (session_id, phase, micros, recorded_at) VALUES (?, ?, ?, ?)`,
		sessionID, phase, d.Microseconds(), at,
	)
	return err
}

// Summary aggregates a session's samples by phase, in phase name order.
func (r *TimingRepository) Summary(sessionID string) ([]PhaseSummary, error) {
	rows, err := r.db.Query(
		`SELECT phase, COUNT(*), AVG(micros), MAX(micros)
		 FROM timings WHERE session_id = ? GROUP BY phase ORDER BY phase`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PhaseSummary
	for rows.Next() {
		var s PhaseSummary
		var mean float64
		var maxMicros int64
		if err := rows.Scan(&s.Phase, &s.Count, &mean, &maxMicros); err != nil {
			return nil, err
		}
		s.Mean = time.Duration(mean * float64(time.Microsecond))
		s.Max = time.Duration(maxMicros) * time.Microsecond
		out = append(out, s)
	}
	return out, rows.Err()
}
