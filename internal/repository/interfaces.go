// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/movienight/internal/model"
)

// EntryRepository はギルドごとの上映カレンダーの永続化インターフェース。
// すべての操作はギルドIDをキーに含み、ギルドをまたぐ読み書きは行わない。
type EntryRepository interface {
	// Create はエントリを1件作成する。IDはストアが採番してentryに設定する。
	Create(ctx context.Context, entry *model.Entry) error

	// CreateBatch は複数エントリを同一トランザクションで作成する。
	// いずれかの書き込みに失敗した場合は1件も作成されない。
	CreateBatch(ctx context.Context, entries []*model.Entry) error

	// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, guildID, id string) (*model.Entry, error)

	// ListScheduled は上映予定のエントリを日付昇順（同日は登録順）で返す。
	ListScheduled(ctx context.Context, guildID string) ([]*model.Entry, error)

	// ListScheduledOn は指定日の上映予定エントリを登録順で返す。
	ListScheduledOn(ctx context.Context, guildID, date string) ([]*model.Entry, error)

	// ListArchived はアーカイブ済みエントリを日付降順で返す。
	ListArchived(ctx context.Context, guildID string) ([]*model.Entry, error)

	// Archive はエントリをアーカイブ済みにし、日付を視聴日に置き換える。
	// 該当エントリがない場合は ENTRY_NOT_FOUND を返す。
	Archive(ctx context.Context, guildID, id, watchedDate string) error

	// ArchiveBefore は指定日より前の上映予定エントリをまとめてアーカイブし、件数を返す。
	ArchiveBefore(ctx context.Context, guildID, date string) (int64, error)

	// Reschedule はエントリの日付を変更する。
	// 該当エントリがない場合は ENTRY_NOT_FOUND を返す。
	Reschedule(ctx context.Context, guildID, id, newDate string) error

	// Delete はエントリを完全に削除する。
	// 該当エントリがない場合は ENTRY_NOT_FOUND を返す。
	Delete(ctx context.Context, guildID, id string) error

	// ListGuildIDs は上映予定エントリを持つギルドIDの一覧を返す。
	ListGuildIDs(ctx context.Context) ([]string, error)
}

// GuildSettingsRepository はギルドごとの上映設定の永続化インターフェース。
type GuildSettingsRepository interface {
	// FindSettings はギルドの設定を取得する。未設定の場合はnilを返す。
	FindSettings(ctx context.Context, guildID string) (*model.GuildSettings, error)

	// SaveSettings はギルドの設定を作成または上書きする。
	SaveSettings(ctx context.Context, settings *model.GuildSettings) error
}

// AttendanceRepository は上映日ごとの参加予定・参加記録の永続化インターフェース。
// 同じ (ギルド, 上映日, ユーザー, 種類) の記録は1件だけ保持する。
type AttendanceRepository interface {
	// AddAttendance は記録を追加する。すでに存在する場合は何もせずfalseを返す。
	AddAttendance(ctx context.Context, guildID, date, userID string, kind model.AttendanceKind) (bool, error)

	// RemoveAttendance は記録を削除する。存在しなかった場合はfalseを返す。
	RemoveAttendance(ctx context.Context, guildID, date, userID string, kind model.AttendanceKind) (bool, error)

	// ListAttendance は記録したユーザーIDを記録順で返す。
	ListAttendance(ctx context.Context, guildID, date string, kind model.AttendanceKind) ([]string, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
