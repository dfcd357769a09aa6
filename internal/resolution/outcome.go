package resolution

import "github.com/hitoshi/movienight/internal/model"

// OutcomeKind はセッション操作の結果の種類を表す。
type OutcomeKind string

const (
	// OutcomeCommitted はすべてのタイトルがカレンダーに書き込まれたことを表す。
	OutcomeCommitted OutcomeKind = "committed"
	// OutcomeAwaitingChoice は利用者の選択待ちで中断したことを表す。
	OutcomeAwaitingChoice OutcomeKind = "awaiting_choice"
	// OutcomeFailed はセッションが失敗して破棄されたことを表す。エントリは1件も書き込まれない。
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeRejected は選択が受理されなかったことを表す。セッションの状態は変化しない。
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome はセッションの開始・選択に対する構造化された結果。
// エラーはすべてセッション境界で回収され、Kind と Error に変換される。
type Outcome struct {
	Kind       OutcomeKind
	SessionKey string
	GuildID    string

	// OutcomeCommitted
	Date    string
	Entries []model.Entry

	// OutcomeAwaitingChoice
	Prompt *model.ChoicePrompt

	// OutcomeFailed / OutcomeRejected
	FailedTitle     string
	UnwrittenTitles []string
	ChoiceStatus    ChoiceStatus
	Error           *model.APIError
}
