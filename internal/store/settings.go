package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Setting reads one per-user setting. toolID == "" looks up a global
// setting (tool_id IS NULL, or the literal 'None' some host rows carry).
// The newest row wins. ok is false when the setting is absent or empty.
func (s *Store) Setting(ctx context.Context, userID, key, toolID string) (value string, ok bool, err error) {
	var row *sql.Row
	if toolID == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT setting_value FROM user_settings
			 WHERE user_id = ? AND setting_key = ? AND (tool_id IS NULL OR tool_id = 'None')
			 ORDER BY updated_at DESC LIMIT 1`,
			userID, key,
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT setting_value FROM user_settings
			 WHERE user_id = ? AND setting_key = ? AND tool_id = ?
			 ORDER BY updated_at DESC LIMIT 1`,
			userID, key, toolID,
		)
	}
	var v sql.NullString
	err = row.Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !v.Valid || v.String == "" {
		return "", false, nil
	}
	return v.String, true, nil
}

// SettingBool reads a boolean-ish setting ("1"/"true"/"yes" are true).
func (s *Store) SettingBool(ctx context.Context, userID, key, toolID string, def bool) (bool, error) {
	v, ok, err := s.Setting(ctx, userID, key, toolID)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	switch v {
	case "1", "true", "True", "yes", "on":
		return true, nil
	case "0", "false", "False", "no", "off":
		return false, nil
	}
	return def, nil
}

// SetSetting upserts one setting row. The engine itself only reads
// settings; this exists for hosts and tests that share the store handle.
func (s *Store) SetSetting(ctx context.Context, userID, key, value, toolID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings(user_id, tool_id, setting_key, setting_value, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id, tool_id, setting_key) DO UPDATE SET
		     setting_value = excluded.setting_value,
		     updated_at = excluded.updated_at`,
		userID, nullStr(toolID), key, value, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

// UsersWithSetting returns the user ids whose global setting key equals
// value. Used by the digest job to find opted-in users.
func (s *Store) UsersWithSetting(ctx context.Context, key, value string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM user_settings
		 WHERE setting_key = ? AND setting_value = ? AND (tool_id IS NULL OR tool_id = 'None')`,
		key, value,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountTasksByStatus tallies a user's tasks for the daily digest.
func (s *Store) CountTasksByStatus(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE user_id = ? GROUP BY status`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}
