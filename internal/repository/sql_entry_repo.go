package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/movienight/internal/database"
	"github.com/hitoshi/movienight/internal/model"
)

// compile-time interface check
var _ EntryRepository = (*SQLEntryRepo)(nil)

const entryColumns = `id, guild_id, title, external_id, release_year, release_date, event_date, added_by, status`

// SQLEntryRepo はPostgreSQLとSQLiteの両方で動作するエントリリポジトリ。
// クエリは "?" プレースホルダで記述し、PostgreSQLでは "$n" に置き換えて実行する。
type SQLEntryRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLEntryRepo はSQLEntryRepoを生成する。
func NewSQLEntryRepo(db *sql.DB, dialect database.Dialect) *SQLEntryRepo {
	return &SQLEntryRepo{db: db, dialect: dialect}
}

// NewPostgresEntryRepo はPostgreSQL用のSQLEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *SQLEntryRepo {
	return NewSQLEntryRepo(db, database.DialectPostgres)
}

// NewSQLiteEntryRepo はSQLite用のSQLEntryRepoを生成する。
func NewSQLiteEntryRepo(db *sql.DB) *SQLEntryRepo {
	return NewSQLEntryRepo(db, database.DialectSQLite)
}

// rebind は "?" プレースホルダをDialectに合わせて書き換える。
func (r *SQLEntryRepo) rebind(query string) string {
	return rebind(r.dialect, query)
}

// rebind は "?" プレースホルダを PostgreSQL の "$n" 形式に書き換える。SQLiteではそのまま返す。
func rebind(dialect database.Dialect, query string) string {
	if dialect != database.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const insertEntrySQL = `INSERT INTO schedule_entries
	(id, guild_id, title, external_id, release_year, release_date, event_date, added_by, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLEntryRepo) insert(ctx context.Context, ex execer, id string, e *model.Entry) error {
	status := e.Status
	if status == "" {
		status = model.EntryStatusScheduled
	}
	_, err := ex.ExecContext(ctx, r.rebind(insertEntrySQL),
		id, e.GuildID, e.Title, nullInt64(e.ExternalID), e.ReleaseYear, e.ReleaseDate, e.Date, e.AddedBy, string(status),
	)
	return err
}

// Create はエントリを1件作成する。
func (r *SQLEntryRepo) Create(ctx context.Context, entry *model.Entry) error {
	id := uuid.New().String()
	if err := r.insert(ctx, r.db, id, entry); err != nil {
		return fmt.Errorf("エントリの作成に失敗しました: %w", err)
	}
	entry.ID = id
	if entry.Status == "" {
		entry.Status = model.EntryStatusScheduled
	}
	return nil
}

// CreateBatch は複数エントリを同一トランザクションで作成する。
// コミットに成功した場合のみ各エントリにIDを設定する。
func (r *SQLEntryRepo) CreateBatch(ctx context.Context, entries []*model.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = uuid.New().String()
		if err := r.insert(ctx, tx, ids[i], e); err != nil {
			return fmt.Errorf("エントリの一括作成に失敗しました（%d件目）: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	for i, e := range entries {
		e.ID = ids[i]
		if e.Status == "" {
			e.Status = model.EntryStatusScheduled
		}
	}
	return nil
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *SQLEntryRepo) FindByID(ctx context.Context, guildID, id string) (*model.Entry, error) {
	row := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT `+entryColumns+` FROM schedule_entries WHERE guild_id = ? AND id = ?`),
		guildID, id,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}
	return e, nil
}

// ListScheduled は上映予定のエントリを日付昇順（同日は登録順）で返す。
func (r *SQLEntryRepo) ListScheduled(ctx context.Context, guildID string) ([]*model.Entry, error) {
	return r.list(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries
		 WHERE guild_id = ? AND status = 'scheduled'
		 ORDER BY event_date ASC, seq ASC`,
		guildID,
	)
}

// ListScheduledOn は指定日の上映予定エントリを登録順で返す。
func (r *SQLEntryRepo) ListScheduledOn(ctx context.Context, guildID, date string) ([]*model.Entry, error) {
	return r.list(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries
		 WHERE guild_id = ? AND status = 'scheduled' AND event_date = ?
		 ORDER BY seq ASC`,
		guildID, date,
	)
}

// ListArchived はアーカイブ済みエントリを日付降順で返す。
func (r *SQLEntryRepo) ListArchived(ctx context.Context, guildID string) ([]*model.Entry, error) {
	return r.list(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries
		 WHERE guild_id = ? AND status = 'archived'
		 ORDER BY event_date DESC, seq ASC`,
		guildID,
	)
}

func (r *SQLEntryRepo) list(ctx context.Context, query string, args ...any) ([]*model.Entry, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("エントリ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var entries []*model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("エントリ行の読み取りに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エントリ一覧の走査に失敗しました: %w", err)
	}
	return entries, nil
}

// Archive はエントリをアーカイブ済みにし、日付を視聴日に置き換える。
func (r *SQLEntryRepo) Archive(ctx context.Context, guildID, id, watchedDate string) error {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`UPDATE schedule_entries SET status = 'archived', event_date = ?
		 WHERE guild_id = ? AND id = ?`),
		watchedDate, guildID, id,
	)
	if err != nil {
		return fmt.Errorf("エントリのアーカイブに失敗しました: %w", err)
	}
	return requireAffected(res, id)
}

// ArchiveBefore は指定日より前の上映予定エントリをまとめてアーカイブし、件数を返す。
func (r *SQLEntryRepo) ArchiveBefore(ctx context.Context, guildID, date string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`UPDATE schedule_entries SET status = 'archived'
		 WHERE guild_id = ? AND status = 'scheduled' AND event_date < ?`),
		guildID, date,
	)
	if err != nil {
		return 0, fmt.Errorf("過去エントリのアーカイブに失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("アーカイブ件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Reschedule はエントリの日付を変更する。
func (r *SQLEntryRepo) Reschedule(ctx context.Context, guildID, id, newDate string) error {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`UPDATE schedule_entries SET event_date = ? WHERE guild_id = ? AND id = ?`),
		newDate, guildID, id,
	)
	if err != nil {
		return fmt.Errorf("エントリの日付変更に失敗しました: %w", err)
	}
	return requireAffected(res, id)
}

// Delete はエントリを完全に削除する。
func (r *SQLEntryRepo) Delete(ctx context.Context, guildID, id string) error {
	res, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM schedule_entries WHERE guild_id = ? AND id = ?`),
		guildID, id,
	)
	if err != nil {
		return fmt.Errorf("エントリの削除に失敗しました: %w", err)
	}
	return requireAffected(res, id)
}

// ListGuildIDs は上映予定エントリを持つギルドIDの一覧を返す。
func (r *SQLEntryRepo) ListGuildIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT guild_id FROM schedule_entries WHERE status = 'scheduled' ORDER BY guild_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("ギルド一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ギルドIDの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ギルド一覧の走査に失敗しました: %w", err)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (*model.Entry, error) {
	e := &model.Entry{}
	var externalID sql.NullInt64
	var status string
	if err := s.Scan(&e.ID, &e.GuildID, &e.Title, &externalID, &e.ReleaseYear, &e.ReleaseDate, &e.Date, &e.AddedBy, &status); err != nil {
		return nil, err
	}
	if externalID.Valid {
		v := externalID.Int64
		e.ExternalID = &v
	}
	e.Status = model.EntryStatus(status)
	return e, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return model.NewEntryNotFoundError(id)
	}
	return nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
