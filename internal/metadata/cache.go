package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/movienight/internal/model"
)

const (
	// DefaultCacheTTL はキャッシュエントリの既定有効期間。
	DefaultCacheTTL = 6 * time.Hour
	// cacheOpTimeout はRedis操作1回あたりのタイムアウト。
	cacheOpTimeout = 2 * time.Second
	// sharedLookupTimeout は集約された問い合わせ1回あたりのタイムアウト。
	sharedLookupTimeout = 30 * time.Second
	keyPrefix      = "movienight:metadata:"
)

// compile-time interface check
var _ Resolver = (*CachedResolver)(nil)

// CachedResolver はRedisで検索結果と詳細情報をキャッシュするResolverのデコレータ。
// 同一キーへの同時問い合わせは singleflight で1回にまとめる。
// まとめた問い合わせは呼び出し元のキャンセルから切り離して実行し、
// 各呼び出し元は自身のコンテキストが終了した時点で待機をやめる。
// Redisの障害時はキャッシュを使わずに委譲先へ問い合わせる。
type CachedResolver struct {
	next   Resolver
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedResolver はCachedResolverを生成する。
// clientがnilの場合はキャッシュを行わず、同時問い合わせの集約のみを行う。
func NewCachedResolver(next Resolver, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedResolver{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Search はキャッシュを参照し、ミスした場合のみ委譲先で検索する。
// 該当なし（空の結果）もキャッシュするが、問い合わせ失敗はキャッシュしない。
func (c *CachedResolver) Search(ctx context.Context, title string, year int) ([]model.Candidate, error) {
	key := keyPrefix + "search:" + strconv.Itoa(year) + ":" + strings.ToLower(strings.TrimSpace(title))

	v, err := c.do(ctx, key, func(ctx context.Context) (any, error) {
		var cached []model.Candidate
		if c.get(ctx, key, &cached) {
			return cached, nil
		}
		res, err := c.next.Search(ctx, title, year)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = []model.Candidate{}
		}
		c.set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Candidate), nil
}

// Details はキャッシュを参照し、ミスした場合のみ委譲先から取得する。
func (c *CachedResolver) Details(ctx context.Context, externalID int64) (*model.CandidateDetails, error) {
	key := keyPrefix + "details:" + strconv.FormatInt(externalID, 10)

	v, err := c.do(ctx, key, func(ctx context.Context) (any, error) {
		var cached model.CandidateDetails
		if c.get(ctx, key, &cached) {
			return &cached, nil
		}
		res, err := c.next.Details(ctx, externalID)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.CandidateDetails), nil
}

// do は key ごとに fn の実行を1回にまとめる。
// fn には最初の呼び出し元のキャンセルを引き継がないコンテキストを渡す。
func (c *CachedResolver) do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		return fn(shared)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// get はキャッシュから値を読み出す。ヒットした場合のみtrueを返す。
func (c *CachedResolver) get(ctx context.Context, key string, dest any) bool {
	if c.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("メタデータキャッシュの読み取りに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("メタデータキャッシュのデコードに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (c *CachedResolver) set(ctx context.Context, key string, value any) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("メタデータキャッシュのエンコードに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("メタデータキャッシュの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// NewRedisClient はRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
