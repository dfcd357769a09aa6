// Package tmdb は The Movie Database (TMDB) API のクライアントを提供する。
// タイトル検索と作品詳細の取得を行い、metadata.Resolver を満たす。
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/hitoshi/movienight/internal/model"
)

const (
	// DefaultBaseURL はTMDB API v3 のベースURL。
	DefaultBaseURL = "https://api.themoviedb.org/3"
	// maxResponseSize はレスポンスボディの最大サイズ（1MB）。
	maxResponseSize = 1 << 20
	userAgent       = "MovieNight/1.0"
)

// ClientConfig はTMDBクライアントの設定を保持する。
type ClientConfig struct {
	APIKey        string
	BaseURL       string
	RatePerSecond float64 // 0以下の場合はクライアント側の流量制限を行わない
}

// Client はTMDB APIのクライアント。
// 1回の問い合わせにつき1リクエストのみ発行し、リトライは行わない。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	baseURL    string // テスト用にエンドポイントを差し替え可能
	limiter    *rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	burst := 0
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(1, int(cfg.RatePerSecond))
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

type searchResponse struct {
	Results []struct {
		ID          int64    `json:"id"`
		Title       string   `json:"title"`
		ReleaseDate string   `json:"release_date"`
		Popularity  *float64 `json:"popularity"`
		Overview    string   `json:"overview"`
	} `json:"results"`
}

type detailsResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
	Overview    string `json:"overview"`
	Genres      []struct {
		Name string `json:"name"`
	} `json:"genres"`
	VoteAverage float64 `json:"vote_average"`
	Runtime     int     `json:"runtime"`
}

// Search はタイトルで作品を検索する。year が0より大きい場合は公開年で絞り込む。
// 該当なしの場合は空スライスとnilを返し、問い合わせ自体の失敗とは区別される。
func (c *Client) Search(ctx context.Context, title string, year int) ([]model.Candidate, error) {
	q := url.Values{}
	q.Set("query", title)
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}

	var resp searchResponse
	if err := c.get(ctx, "/search/movie", q, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", model.NewLookupFailedError(title), err)
	}

	candidates := make([]model.Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		candidates = append(candidates, model.Candidate{
			ExternalID:  r.ID,
			Title:       r.Title,
			ReleaseDate: r.ReleaseDate,
			Popularity:  r.Popularity,
			Overview:    r.Overview,
		})
	}
	return candidates, nil
}

// Details は作品IDから詳細情報を取得する。
func (c *Client) Details(ctx context.Context, externalID int64) (*model.CandidateDetails, error) {
	var resp detailsResponse
	path := "/movie/" + strconv.FormatInt(externalID, 10)
	if err := c.get(ctx, path, url.Values{}, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", model.NewLookupFailedError(strconv.FormatInt(externalID, 10)), err)
	}

	genres := make([]string, 0, len(resp.Genres))
	for _, g := range resp.Genres {
		genres = append(genres, g.Name)
	}
	return &model.CandidateDetails{
		ExternalID:  resp.ID,
		Title:       resp.Title,
		ReleaseDate: resp.ReleaseDate,
		Overview:    resp.Overview,
		Genres:      genres,
		VoteAverage: resp.VoteAverage,
		Runtime:     resp.Runtime,
	}, nil
}

// get はAPIを呼び出してJSONレスポンスを out にデコードする。
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("流量制限の待機が中断されました: %w", err)
	}

	reqURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q.Set("api_key", c.apiKey)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = redactURLError(err, c.baseURL+path)
		c.logger.Error("TMDB APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("path", path),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("TMDB APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("path", path),
		)
		return fmt.Errorf("TMDB APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("TMDB APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
			slog.String("path", path),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// redactURLError は *url.Error に含まれるリクエストURLをクエリなしのものに置き換える。
// api_key がエラーメッセージやログに残らないようにする。
func redactURLError(err error, safeURL string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = safeURL
	}
	return err
}
