package storage

import (
	"fmt"
	"time"

	apperrors "github.com/umi/bridge/internal/errors"
	"github.com/umi/bridge/internal/protocol"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Interaction is one recorded decision.
type Interaction struct {
	ID           int64             `json:"id"`
	RecordedAt   time.Time         `json:"recorded_at"`
	EventType    protocol.Decision `json:"event_type"`
	SuggestionID string            `json:"suggestion_id"`
	FilePath     string            `json:"file_path"`
	SessionID    string            `json:"session_id"`
}

// Summary aggregates every recorded decision.
type Summary struct {
	Total    int       `json:"total"`
	Accepted int       `json:"accepted"`
	Rejected int       `json:"rejected"`
	Sessions int       `json:"sessions"`
	First    time.Time `json:"first"`
	Last     time.Time `json:"last"`
}

// AcceptRate returns Accepted/Total, or 0 with no data.
func (s Summary) AcceptRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Total)
}

// RecordInteraction stores one accept/reject decision.
func (s *TelemetryStore) RecordInteraction(decision protocol.Decision, suggestionID, filePath string) error {
	return s.recordAt(time.Now(), decision, suggestionID, filePath)
}

func (s *TelemetryStore) recordAt(at time.Time, decision protocol.Decision, suggestionID, filePath string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.Exec(
		"INSERT INTO interactions (recorded_at, event_type, suggestion_id, file_path, session_id) VALUES (?, ?, ?, ?, ?)",
		at.UTC().Format(timeLayout), string(decision), suggestionID, filePath, s.sessionID,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "record interaction", err)
	}
	return nil
}

// AdaptationRatios returns, per suggestion id, the share of decisions that
// were accepts.
func (s *TelemetryStore) AdaptationRatios() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT suggestion_id,
		       SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END) AS accepts,
		       COUNT(*) AS total
		FROM interactions
		GROUP BY suggestion_id
	`, string(protocol.Accepted))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query adaptation ratios", err)
	}
	defer rows.Close()

	ratios := make(map[string]float64)
	for rows.Next() {
		var id string
		var accepts, total int
		if err := rows.Scan(&id, &accepts, &total); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan adaptation ratio", err)
		}
		if total > 0 {
			ratios[id] = float64(accepts) / float64(total)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate adaptation ratios", err)
	}
	return ratios, nil
}

// Recent returns up to limit interactions, newest first.
func (s *TelemetryStore) Recent(limit int) ([]Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, recorded_at, event_type, suggestion_id, file_path, session_id
		 FROM interactions ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query recent interactions", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		var at, event string
		if err := rows.Scan(&in.ID, &at, &event, &in.SuggestionID, &in.FilePath, &in.SessionID); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan interaction", err)
		}
		in.EventType = protocol.Decision(event)
		in.RecordedAt, _ = time.Parse(timeLayout, at)
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate interactions", err)
	}
	return out, nil
}

// Summarize aggregates all stored interactions.
func (s *TelemetryStore) Summarize() (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Summary{}, ErrClosed
	}

	var sum Summary
	var first, last string
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN event_type = ? THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT session_id),
		       COALESCE(MIN(recorded_at), ''),
		       COALESCE(MAX(recorded_at), '')
		FROM interactions
	`, string(protocol.Accepted), string(protocol.Rejected)).Scan(
		&sum.Total, &sum.Accepted, &sum.Rejected, &sum.Sessions, &first, &last,
	)
	if err != nil {
		return Summary{}, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "summarize interactions", err)
	}
	if first != "" {
		sum.First, _ = time.Parse(timeLayout, first)
	}
	if last != "" {
		sum.Last, _ = time.Parse(timeLayout, last)
	}
	return sum, nil
}

// Cleanup deletes interactions older than retention and returns how many
// rows were removed.
func (s *TelemetryStore) Cleanup(retention time.Duration) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	cutoff := time.Now().UTC().Add(-retention).Format(timeLayout)
	result, err := s.db.Exec("DELETE FROM interactions WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeStorageQueryFailed, fmt.Sprintf("cleanup before %s", cutoff), err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
