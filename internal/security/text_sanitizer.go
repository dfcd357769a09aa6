// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は外部から取り込んだ作品タイトルやあらすじ、利用者が入力したタイトルから
// HTMLマークアップを除去し、チャットや通知にそのまま表示できるプレーンテキストにする。
// bluemondayの StrictPolicy を使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化を行う。スレッドセーフ。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はすべてのタグを除去し、連続する空白を1つにまとめたテキストを返す。
// StrictPolicy がエスケープした実体参照（&amp; など）は元の文字に戻す。
// 出力はHTMLとして埋め込むことを想定しない。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(cleaned), " ")
}
