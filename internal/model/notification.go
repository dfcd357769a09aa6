package model

// CommittedEvent はセッションのコミット完了通知を表す。
type CommittedEvent struct {
	GuildID     string
	RequesterID string
	Date        string
	Entries     []Entry
}

// FailedEvent はセッションの失敗通知を表す。
// CommittedTitles はコミット済みの（あるいは未コミットで空の）タイトル一覧。
type FailedEvent struct {
	GuildID         string
	RequesterID     string
	Title           string // 失敗の原因となったタイトル（不明な場合は空文字）
	Code            string // APIError のエラーコード
	Reason          string
	CommittedTitles []string
}

// ChoicePrompt は曖昧なタイトルに対する選択肢の提示を表す。
type ChoicePrompt struct {
	GuildID     string
	RequesterID string
	Token       string
	Title       string
	Options     []ChoiceOption
	ExpiresAt   string // RFC 3339
}

// ChoiceOption は選択肢1件を表す。Index は0始まり。
type ChoiceOption struct {
	Index int
	Label string
}

// ReminderEvent は上映開始直前のリマインダーを表す。
type ReminderEvent struct {
	GuildID     string
	Date        string
	StartsAt    string // RFC 3339
	LeadMinutes int    // 上映開始までの分数
	Movies      []ReminderMovie
}

// ReminderMovie はリマインダーに含める作品情報を表す。
type ReminderMovie struct {
	Title       string
	ReleaseYear string
	Genres      []string
	VoteAverage float64
	Overview    string
	AddedBy     string
}
