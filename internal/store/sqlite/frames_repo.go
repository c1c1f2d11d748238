package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fitloop/syncd/internal/domain"
)

// InsertFrames bulk-inserts an append-only batch of ML frames in one
// transaction, giving batched writes a "one transaction or nothing"
// guarantee (spec.md §4.1).
func (db *DB) InsertFrames(ctx domain.Context, frames []domain.MLTrainingFrame) error {
	ctx, span := tracer.Start(ctx, "frames.InsertBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("frames.count", len(frames)))

	if len(frames) == 0 {
		return nil
	}

	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("op=frames.insert.begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO ml_training_frames
		(id, session_id, frame_number, captured_at, landmarks, angle_data, phase_label, is_valid, confidence, synced, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("op=frames.insert.prepare: %w", err)
	}
	defer stmt.Close()

	for _, f := range frames {
		angleJSON, err := marshalAngles(f.AngleData)
		if err != nil {
			return fmt.Errorf("op=frames.insert.marshal_angles: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, f.ID, f.SessionID, f.FrameNumber, f.CapturedAt,
			f.Landmarks, angleJSON, f.PhaseLabel, boolToInt(f.IsValid), f.Confidence,
			boolToInt(f.Synced), f.CreatedAt); err != nil {
			return fmt.Errorf("op=frames.insert.exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("op=frames.insert.commit: %w", err)
	}
	committed = true
	return nil
}

// ListFramesBySession returns all frames for a session in capture order.
func (db *DB) ListFramesBySession(ctx domain.Context, sessionID string) ([]domain.MLTrainingFrame, error) {
	ctx, span := tracer.Start(ctx, "frames.ListBySession")
	defer span.End()

	rows, err := db.reader.QueryContext(ctx, `SELECT id, session_id, frame_number, captured_at,
		landmarks, angle_data, phase_label, is_valid, confidence, synced, created_at
		FROM ml_training_frames WHERE session_id=? ORDER BY frame_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=frames.list: %w", err)
	}
	defer rows.Close()

	var out []domain.MLTrainingFrame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("op=frames.list_scan: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkFramesSynced flips the synced flag for every frame of a session.
func (db *DB) MarkFramesSynced(ctx domain.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "frames.MarkSynced")
	defer span.End()
	if _, err := db.writer.ExecContext(ctx, `UPDATE ml_training_frames SET synced=1 WHERE session_id=?`, sessionID); err != nil {
		return fmt.Errorf("op=frames.mark_synced: %w", err)
	}
	return nil
}

// DeleteFramesBySession bulk-deletes every frame of a session, whatever its
// synced flag.
func (db *DB) DeleteFramesBySession(ctx domain.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "frames.DeleteBySession")
	defer span.End()
	if _, err := db.writer.ExecContext(ctx, `DELETE FROM ml_training_frames WHERE session_id=?`, sessionID); err != nil {
		return fmt.Errorf("op=frames.delete: %w", err)
	}
	return nil
}

func scanFrame(row scanner) (domain.MLTrainingFrame, error) {
	var f domain.MLTrainingFrame
	var angleJSON sql.NullString
	var isValid, synced int
	if err := row.Scan(&f.ID, &f.SessionID, &f.FrameNumber, &f.CapturedAt, &f.Landmarks,
		&angleJSON, &f.PhaseLabel, &isValid, &f.Confidence, &synced, &f.CreatedAt); err != nil {
		return domain.MLTrainingFrame{}, err
	}
	f.IsValid = isValid != 0
	f.Synced = synced != 0
	if angleJSON.Valid && angleJSON.String != "" {
		if err := json.Unmarshal([]byte(angleJSON.String), &f.AngleData); err != nil {
			return domain.MLTrainingFrame{}, fmt.Errorf("unmarshal angle_data: %w", err)
		}
	}
	return f, nil
}

func marshalAngles(angles map[string]float64) (any, error) {
	if angles == nil {
		return nil, nil
	}
	b, err := json.Marshal(angles)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
