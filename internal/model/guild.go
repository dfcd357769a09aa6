package model

// Caller は操作を要求した利用者を表す。
type Caller struct {
	UserID string
	Admin  bool
}

// GuildSettings はギルドごとの上映設定を表す。
// 空の項目はサーバー全体の既定値（EVENT_TIME / EVENT_TIMEZONE）を使う。
type GuildSettings struct {
	GuildID       string
	EventTime     string // "Saturday 20:00" 形式
	EventTimezone string // IANAタイムゾーン名
	UpdatedBy     string
}

// AttendanceKind は出欠記録の種類を表す。
type AttendanceKind string

const (
	// AttendanceRSVP は参加予定の表明。
	AttendanceRSVP AttendanceKind = "rsvp"
	// AttendanceAttended は実際の参加記録。
	AttendanceAttended AttendanceKind = "attended"
)

// Roster は1回の上映日についての参加予定者と参加者の一覧。
type Roster struct {
	GuildID  string
	Date     string
	RSVPs    []string
	Attended []string
}
