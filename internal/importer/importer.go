// Package importer は公開ウォッチリスト（LetterboxdなどのRSS）からタイトルを取り込み、
// 解決セッションを開始する。
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/movienight/internal/model"
	"github.com/hitoshi/movienight/internal/resolution"
)

const (
	// DefaultMaxTitles は1回の取り込みで登録するタイトル数の既定上限。
	DefaultMaxTitles = 5
	// DefaultMaxBodySize はウォッチリストのレスポンスボディの既定上限（2MB）。
	DefaultMaxBodySize = 2 << 20
	// DefaultTimeout はウォッチリスト取得の既定タイムアウト。
	DefaultTimeout = 15 * time.Second

	letterboxdNamespace = "letterboxd"
	userAgent           = "MovieNight/1.0"
)

// URLValidator は取り込み元URLの事前検証を行う。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// SessionStarter は解決セッションを開始する。
type SessionStarter interface {
	Start(ctx context.Context, req resolution.Request) (*resolution.Outcome, error)
}

// Config は取り込みの制限値を保持する。
type Config struct {
	MaxTitles   int
	MaxBodySize int64
	Timeout     time.Duration
}

// Importer はウォッチリストの取得と解決セッションの開始を行う。
type Importer struct {
	httpClient *http.Client
	validator  URLValidator
	starter    SessionStarter
	logger     *slog.Logger
	cfg        Config
}

// NewImporter はImporterを生成する。
// httpClient には security.URLGuard.NewSafeClient で生成したクライアントを渡す。
func NewImporter(httpClient *http.Client, validator URLValidator, starter SessionStarter, logger *slog.Logger, cfg Config) *Importer {
	if cfg.MaxTitles <= 0 {
		cfg.MaxTitles = DefaultMaxTitles
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Importer{
		httpClient: httpClient,
		validator:  validator,
		starter:    starter,
		logger:     logger,
		cfg:        cfg,
	}
}

// Request はウォッチリスト取り込みの要求を表す。
type Request struct {
	GuildID     string
	RequesterID string
	RequestID   string
	FeedURL     string
	Limit       int    // 0の場合は設定上限まで
	TargetDate  string // 空の場合は最初の空き上映日
}

// Result は取り込み結果を表す。
type Result struct {
	Titles  []string
	Outcome *resolution.Outcome
}

// Import はウォッチリストを取得し、先頭から最大 Limit 件のタイトルで解決セッションを開始する。
func (im *Importer) Import(ctx context.Context, req Request) (*Result, error) {
	if err := im.validator.ValidateURL(req.FeedURL); err != nil {
		im.logger.Warn("取り込み元URLを拒否しました",
			slog.String("feed_url", req.FeedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewSSRFBlockedError()
	}

	limit := im.cfg.MaxTitles
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}

	titles, years, err := im.fetchTitles(ctx, req.FeedURL, limit)
	if err != nil {
		im.logger.Error("ウォッチリストの取得に失敗しました",
			slog.String("feed_url", req.FeedURL),
			slog.String("error", err.Error()),
		)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, fmt.Errorf("%w: %w", model.NewImportFailedError("ウォッチリストを取得できませんでした"), err)
	}
	if len(titles) == 0 {
		return nil, model.NewImportFailedError("ウォッチリストに作品がありません")
	}

	im.logger.Info("ウォッチリストを取り込みました",
		slog.String("guild_id", req.GuildID),
		slog.String("feed_url", req.FeedURL),
		slog.Int("title_count", len(titles)),
	)

	outcome, err := im.starter.Start(ctx, resolution.Request{
		GuildID:     req.GuildID,
		RequesterID: req.RequesterID,
		RequestID:   req.RequestID,
		Titles:      titles,
		TitleYears:  years,
		TargetDate:  req.TargetDate,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Titles: titles, Outcome: outcome}, nil
}

// fetchTitles はウォッチリストのタイトルと、タイトルと同じ並びの公開年（不明な場合は0）を返す。
func (im *Importer) fetchTitles(ctx context.Context, feedURL string, limit int) ([]string, []int, error) {
	ctx, cancel := context.WithTimeout(ctx, im.cfg.Timeout)
	defer cancel()

	body, contentType, err := im.get(ctx, feedURL)
	if err != nil {
		return nil, nil, err
	}

	// プロフィールページなどHTMLが返された場合は、head内のRSSリンクを1段だけたどる
	if isHTML(contentType) {
		link := discoverFeedLink(body, feedURL)
		if link == "" {
			return nil, nil, model.NewImportFailedError("ページにRSSフィードが見つかりません")
		}
		if err := im.validator.ValidateURL(link); err != nil {
			return nil, nil, model.NewSSRFBlockedError()
		}
		im.logger.Info("RSSフィードを検出しました",
			slog.String("feed_url", feedURL),
			slog.String("discovered_url", link),
		)
		if body, _, err = im.get(ctx, link); err != nil {
			return nil, nil, err
		}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("フィードのパースに失敗しました: %w", err)
	}
	titles, years := extractTitles(feed.Items, limit)
	return titles, years, nil
}

// get はURLの本文を最大 MaxBodySize バイト読み込み、Content-Typeとともに返す。
func (im *Importer) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := im.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("HTTPリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", model.NewImportFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.cfg.MaxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("レスポンスの読み込みに失敗しました: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// itemSuffix はLetterboxdの記事タイトル末尾の ", 1979" や " - ★★★★" を表す。公開年を1番目のグループに取り出す。
var itemSuffix = regexp.MustCompile(`(?:,\s*(\d{4}))?(?:\s+-\s+[★½]+)?\s*$`)

// extractTitles はフィードの記事から重複を除いたタイトルを先頭から最大 limit 件返す。
// Letterboxdの filmTitle / filmYear 拡張要素があればそれを優先し、
// なければ記事タイトルの末尾から公開年を読み取る。years は titles と同じ並びで、不明な年は0。
func extractTitles(items []*gofeed.Item, limit int) (titles []string, years []int) {
	seen := make(map[string]struct{})
	for _, item := range items {
		if item == nil {
			continue
		}
		suffix := itemSuffix.FindStringSubmatchIndex(item.Title)
		title := strings.TrimSpace(letterboxdValue(item, "filmTitle"))
		if title == "" && suffix != nil {
			title = strings.TrimSpace(item.Title[:suffix[0]])
		}
		if title == "" {
			continue
		}
		key := strings.ToLower(title)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		year, _ := strconv.Atoi(strings.TrimSpace(letterboxdValue(item, "filmYear")))
		if year <= 0 && suffix != nil && suffix[2] >= 0 {
			year, _ = strconv.Atoi(item.Title[suffix[2]:suffix[3]])
		}
		titles = append(titles, title)
		years = append(years, year)
		if len(titles) == limit {
			break
		}
	}
	return titles, years
}

func letterboxdValue(item *gofeed.Item, name string) string {
	ns, ok := item.Extensions[letterboxdNamespace]
	if !ok {
		return ""
	}
	values := ns[name]
	if len(values) == 0 {
		return ""
	}
	return values[0].Value
}
