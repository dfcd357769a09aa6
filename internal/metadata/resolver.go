// Package metadata は作品メタデータの解決インターフェースと、
// 候補の並べ替え・キャッシュなどの共通処理を提供する。
package metadata

import (
	"context"
	"slices"

	"github.com/hitoshi/movienight/internal/model"
)

// Resolver は作品メタデータの解決インターフェース。
// 実装は各呼び出しにつき外部サービスへの問い合わせを高々1回行い、リトライはしない。
type Resolver interface {
	// Search はタイトルで作品候補を検索する。year が0より大きい場合は公開年で絞り込む。
	// 該当なしの場合は空スライスを返す。問い合わせ失敗時は LOOKUP_FAILED を返す。
	Search(ctx context.Context, title string, year int) ([]model.Candidate, error)

	// Details は作品IDから詳細情報を取得する。
	Details(ctx context.Context, externalID int64) (*model.CandidateDetails, error)
}

// RankCandidates は候補を人気度の降順に並べ替えた新しいスライスを返す。
// 人気度が未提供の候補は末尾に置き、同順位は元の順序を保つ。
func RankCandidates(candidates []model.Candidate) []model.Candidate {
	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(a, b model.Candidate) int {
		switch {
		case a.Popularity == nil && b.Popularity == nil:
			return 0
		case a.Popularity == nil:
			return 1
		case b.Popularity == nil:
			return -1
		case *a.Popularity > *b.Popularity:
			return -1
		case *a.Popularity < *b.Popularity:
			return 1
		default:
			return 0
		}
	})
	return ranked
}
