package model

// Candidate はタイトル検索で得られた作品候補を表す。
type Candidate struct {
	ExternalID  int64
	Title       string
	ReleaseDate string   // "YYYY-MM-DD" または空文字
	Popularity  *float64 // 未提供の場合はnil
	Overview    string
}

// Year は候補のリリース年を返す。
func (c Candidate) Year() string {
	return YearOf(c.ReleaseDate)
}

// Label はユーザーへの選択肢表示用の文字列を返す（例: "Alien (1979)"）。
func (c Candidate) Label() string {
	if y := c.Year(); y != "" {
		return c.Title + " (" + y + ")"
	}
	return c.Title
}

// CandidateDetails は作品詳細情報を表す。
type CandidateDetails struct {
	ExternalID  int64
	Title       string
	ReleaseDate string
	Overview    string
	Genres      []string
	VoteAverage float64
	Runtime     int // 分
}
