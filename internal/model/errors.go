package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 利用者に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, metadata, choice, storage, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合に true を返す。
// errors.Is(err, model.ErrEntryNotFound) のようにコード単位で判定できる。
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidTitles    = "INVALID_TITLES"
	ErrCodeInvalidDate      = "INVALID_DATE"
	ErrCodeInvalidEventTime = "INVALID_EVENT_TIME"
	ErrCodeLookupFailed     = "LOOKUP_FAILED"
	ErrCodeNoCandidates     = "NO_CANDIDATES"
	ErrCodeChoiceInvalid    = "CHOICE_INVALID"
	ErrCodeChoiceExpired    = "CHOICE_EXPIRED"
	ErrCodeChoiceOutOfRange = "CHOICE_OUT_OF_RANGE"
	ErrCodeStoreWriteFailed = "STORE_WRITE_FAILED"
	ErrCodeEntryNotFound    = "ENTRY_NOT_FOUND"
	ErrCodeSessionBusy      = "SESSION_BUSY"
	ErrCodeSessionExists    = "SESSION_EXISTS"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeImportFailed     = "IMPORT_FAILED"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
)

// errors.Is による判定用のセンチネル。
var (
	ErrLookupFailed     = &APIError{Code: ErrCodeLookupFailed}
	ErrNoCandidates     = &APIError{Code: ErrCodeNoCandidates}
	ErrChoiceInvalid    = &APIError{Code: ErrCodeChoiceInvalid}
	ErrChoiceExpired    = &APIError{Code: ErrCodeChoiceExpired}
	ErrChoiceOutOfRange = &APIError{Code: ErrCodeChoiceOutOfRange}
	ErrStoreWriteFailed = &APIError{Code: ErrCodeStoreWriteFailed}
	ErrEntryNotFound    = &APIError{Code: ErrCodeEntryNotFound}
	ErrSessionBusy      = &APIError{Code: ErrCodeSessionBusy}
	ErrSessionExists    = &APIError{Code: ErrCodeSessionExists}
)

// NewInvalidTitlesError はタイトルが1件も指定されていない場合のエラーを生成する。
func NewInvalidTitlesError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTitles,
		Message:  "タイトルが指定されていません。",
		Category: "validation",
		Action:   "1件以上の映画タイトルをカンマ区切りで指定してください。",
	}
}

// NewInvalidDateError は日付形式が不正な場合のエラーを生成する。
func NewInvalidDateError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", date),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD 形式で指定してください。",
	}
}

// NewInvalidEventTimeError は上映曜日・時刻またはタイムゾーンの指定が不正な場合のエラーを生成する。
func NewInvalidEventTimeError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEventTime,
		Message:  fmt.Sprintf("無効な上映時刻です: %s", value),
		Category: "validation",
		Action:   `"Saturday 20:00" の形式と、IANAタイムゾーン名（例: America/New_York）で指定してください。`,
	}
}

// NewLookupFailedError はメタデータサービスへの問い合わせ失敗エラーを生成する。
func NewLookupFailedError(title string) *APIError {
	return &APIError{
		Code:     ErrCodeLookupFailed,
		Message:  fmt.Sprintf("作品情報の検索に失敗しました: %s", title),
		Category: "metadata",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNoCandidatesError は検索結果が0件の場合のエラーを生成する。
func NewNoCandidatesError(title string) *APIError {
	return &APIError{
		Code:     ErrCodeNoCandidates,
		Message:  fmt.Sprintf("作品が見つかりませんでした: %s", title),
		Category: "metadata",
		Action:   "タイトルの綴りを確認するか、公開年を指定してください。",
	}
}

// NewChoiceInvalidError は未知または使用済みの選択トークンに対するエラーを生成する。
func NewChoiceInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeChoiceInvalid,
		Message:  "この選択肢はすでに無効です。",
		Category: "choice",
		Action:   "もう一度タイトルを追加し直してください。",
	}
}

// NewChoiceExpiredError は有効期限切れの選択トークンに対するエラーを生成する。
func NewChoiceExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeChoiceExpired,
		Message:  "選択の有効期限が切れました。",
		Category: "choice",
		Action:   "もう一度タイトルを追加し直してください。",
	}
}

// NewChoiceOutOfRangeError は候補数を超える選択番号に対するエラーを生成する。
func NewChoiceOutOfRangeError(index, size int) *APIError {
	return &APIError{
		Code:     ErrCodeChoiceOutOfRange,
		Message:  fmt.Sprintf("選択番号 %d は範囲外です（候補数: %d）。", index, size),
		Category: "choice",
		Action:   "表示された候補の中から選択してください。",
	}
}

// NewStoreWriteFailedError はカレンダーへの書き込み失敗エラーを生成する。
func NewStoreWriteFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreWriteFailed,
		Message:  "カレンダーへの保存に失敗しました。",
		Category: "storage",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewEntryNotFoundError はエントリが見つからない場合のエラーを生成する。
func NewEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("指定されたエントリが見つかりません: %s", entryID),
		Category: "storage",
		Action:   "エントリIDを確認してください。",
	}
}

// NewSessionBusyError はセッションが処理中の場合のエラーを生成する。
func NewSessionBusyError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionBusy,
		Message:  "このセッションは処理中です。",
		Category: "choice",
		Action:   "処理の完了を待ってから再度お試しください。",
	}
}

// NewSessionExistsError は同一キーのセッションが既に存在する場合のエラーを生成する。
func NewSessionExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExists,
		Message:  "同じリクエストのセッションがすでに存在します。",
		Category: "validation",
		Action:   "新しいリクエストIDで再度お試しください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("この操作は許可されていません: %s", reason),
		Category: "auth",
		Action:   "権限を持つユーザーで実行してください。",
	}
}

// NewImportFailedError はウォッチリストの取り込み失敗エラーを生成する。
func NewImportFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeImportFailed,
		Message:  fmt.Sprintf("ウォッチリストの取り込みに失敗しました: %s", reason),
		Category: "import",
		Action:   "公開されているRSSフィードのURLか確認してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}
