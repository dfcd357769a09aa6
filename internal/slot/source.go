package slot

import "context"

// Source はギルドごとのスロット計算器を返す。
// ギルドが独自の上映時刻を設定している場合はそれを反映した Allocator を返す。
type Source interface {
	For(ctx context.Context, guildID string) (*Allocator, error)
}

// Fixed は全ギルドに同じ Allocator を返す Source を生成する。
func Fixed(a *Allocator) Source {
	return fixedSource{a: a}
}

type fixedSource struct {
	a *Allocator
}

func (f fixedSource) For(context.Context, string) (*Allocator, error) {
	return f.a, nil
}
