// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// DateLayout はカレンダー日付の文字列表現（ISO 8601 の YYYY-MM-DD）。
const DateLayout = "2006-01-02"

// EntryStatus はカレンダーエントリの状態を表す。
type EntryStatus string

const (
	// EntryStatusScheduled は上映予定のエントリ。
	EntryStatusScheduled EntryStatus = "scheduled"
	// EntryStatusArchived は視聴済みとしてアーカイブされたエントリ。
	EntryStatusArchived EntryStatus = "archived"
)

// Entry はギルドのカレンダーに登録された1本の映画を表す。
// ID はストアが採番する不透明な識別子で、ギルド内で一意である。
type Entry struct {
	ID          string
	GuildID     string
	Title       string
	ExternalID  *int64 // メタデータサービス側の作品ID（未解決の場合はnil）
	ReleaseYear string // "YYYY" または空文字
	ReleaseDate string // "YYYY-MM-DD" または空文字
	Date        string // 上映日 "YYYY-MM-DD"
	AddedBy     string
	Status      EntryStatus
}

// ParseDate は "YYYY-MM-DD" 形式の日付文字列を検証して time.Time に変換する。
// 返り値はUTCの0時として表現される。
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("日付の形式が不正です（YYYY-MM-DD）: %q", s)
	}
	return t, nil
}

// FormatDate は t の属するロケーションでの暦日を "YYYY-MM-DD" で返す。
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// YearOf はリリース日文字列から年部分を取り出す。取り出せない場合は空文字を返す。
func YearOf(releaseDate string) string {
	if len(releaseDate) < 4 {
		return ""
	}
	for _, c := range releaseDate[:4] {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return releaseDate[:4]
}

// DateLabel は "YYYY-MM-DD" を "October 17, 2026" 形式の表示用文字列に変換する。
// 解析できない場合は入力をそのまま返す。
func DateLabel(date string) string {
	t, err := ParseDate(date)
	if err != nil {
		return date
	}
	return t.Format("January 2, 2006")
}
