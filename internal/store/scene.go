package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayusman/facefinder/internal/facefinder"
)

// SceneRecord is a stored scene.
type SceneRecord struct {
	ID        string
	SessionID string
	Timestamp time.Time
	Faces     int
	Regressed bool
	Failed    bool
	Scene     *facefinder.Scene
}

// SceneRepository stores scenes.
type SceneRepository struct {
	db *sql.DB
}

// Scenes returns the scene repository for this store.
func (s *Store) Scenes() *SceneRepository {
	return &SceneRepository{db: s.db}
}

// Insert stores scene under session. A scene already stored is ignored,
// so lightweight and full notifications of one scene record it once.
func (r *SceneRepository) Insert(sessionID string, scene *facefinder.Scene) error {
	data, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO scenes (id, session_id, ts, faces, regressed, failed, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET regressed = excluded.regressed, data = excluded.data
		 WHERE excluded.regressed > scenes.regressed`,
		scene.ID.String(), sessionID, scene.Timestamp, len(scene.Faces), scene.Regressed, scene.Failed, string(data),
	)
	return err
}

// List returns up to limit scenes of a session in timestamp order,
// starting after offset.
func (r *SceneRepository) List(sessionID string, offset, limit int) ([]*SceneRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(
		`SELECT id, session_id, ts, faces, regressed, failed, data
		 FROM scenes WHERE session_id = ? ORDER BY ts LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SceneRecord
	for rows.Next() {
		rec := &SceneRecord{}
		var data string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &rec.Faces, &rec.Regressed, &rec.Failed, &data); err != nil {
			return nil, err
		}
		rec.Scene = &facefinder.Scene{}
		if err := json.Unmarshal([]byte(data), rec.Scene); err != nil {
			return nil, fmt.Errorf("decode scene %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of scenes stored for a session.
func (r *SceneRepository) Count(sessionID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM scenes WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}
