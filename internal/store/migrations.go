package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per camera run or replay
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frames INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0
		)`,

		// Scenes table - detection results, the full scene kept as JSON
		`CREATE TABLE IF NOT EXISTS scenes (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			ts DATETIME NOT NULL,
			faces INTEGER NOT NULL,
			regressed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL
		)`,

		// Timings table - per-phase durations
		`CREATE TABLE IF NOT EXISTS timings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			phase TEXT NOT NULL,
			micros INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_scenes_session_ts ON scenes(session_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_timings_session_phase ON timings(session_id, phase)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
