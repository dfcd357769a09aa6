package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/movienight/internal/database"
	"github.com/hitoshi/movienight/internal/model"
)

// compile-time interface check
var (
	_ GuildSettingsRepository = (*SQLGuildRepo)(nil)
	_ AttendanceRepository    = (*SQLGuildRepo)(nil)
)

// SQLGuildRepo はギルド設定と出欠記録を扱うリポジトリ。PostgreSQLとSQLiteの両方で動作する。
type SQLGuildRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLGuildRepo はSQLGuildRepoを生成する。
func NewSQLGuildRepo(db *sql.DB, dialect database.Dialect) *SQLGuildRepo {
	return &SQLGuildRepo{db: db, dialect: dialect}
}

// FindSettings はギルドの設定を取得する。未設定の場合はnilを返す。
func (r *SQLGuildRepo) FindSettings(ctx context.Context, guildID string) (*model.GuildSettings, error) {
	s := &model.GuildSettings{}
	err := r.db.QueryRowContext(ctx,
		rebind(r.dialect, `SELECT guild_id, event_time, event_timezone, updated_by FROM guild_settings WHERE guild_id = ?`),
		guildID,
	).Scan(&s.GuildID, &s.EventTime, &s.EventTimezone, &s.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ギルド設定の取得に失敗しました: %w", err)
	}
	return s, nil
}

// SaveSettings はギルドの設定を作成または上書きする。
func (r *SQLGuildRepo) SaveSettings(ctx context.Context, s *model.GuildSettings) error {
	_, err := r.db.ExecContext(ctx, rebind(r.dialect, `
		INSERT INTO guild_settings (guild_id, event_time, event_timezone, updated_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			event_time = excluded.event_time,
			event_timezone = excluded.event_timezone,
			updated_by = excluded.updated_by,
			updated_at = CURRENT_TIMESTAMP`),
		s.GuildID, s.EventTime, s.EventTimezone, s.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("ギルド設定の保存に失敗しました: %w", err)
	}
	return nil
}

// AddAttendance は記録を追加する。すでに存在する場合はfalseを返す。
func (r *SQLGuildRepo) AddAttendance(ctx context.Context, guildID, date, userID string, kind model.AttendanceKind) (bool, error) {
	res, err := r.db.ExecContext(ctx, rebind(r.dialect, `
		INSERT INTO attendance (guild_id, event_date, user_id, kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, event_date, user_id, kind) DO NOTHING`),
		guildID, date, userID, string(kind),
	)
	if err != nil {
		return false, fmt.Errorf("出欠の記録に失敗しました: %w", err)
	}
	return affected(res)
}

// RemoveAttendance は記録を削除する。存在しなかった場合はfalseを返す。
func (r *SQLGuildRepo) RemoveAttendance(ctx context.Context, guildID, date, userID string, kind model.AttendanceKind) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		rebind(r.dialect, `DELETE FROM attendance WHERE guild_id = ? AND event_date = ? AND user_id = ? AND kind = ?`),
		guildID, date, userID, string(kind),
	)
	if err != nil {
		return false, fmt.Errorf("出欠記録の削除に失敗しました: %w", err)
	}
	return affected(res)
}

// ListAttendance は記録したユーザーIDを記録順で返す。
func (r *SQLGuildRepo) ListAttendance(ctx context.Context, guildID, date string, kind model.AttendanceKind) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		rebind(r.dialect, `SELECT user_id FROM attendance
			WHERE guild_id = ? AND event_date = ? AND kind = ?
			ORDER BY created_at, user_id`),
		guildID, date, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("出欠記録の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("出欠記録の読み取りに失敗しました: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("出欠記録の走査に失敗しました: %w", err)
	}
	return users, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}
