package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var ErrCursorNotFound = errors.New("CURSOR_NOT_FOUND")

type FollowPresence interface {
	AddFollower(ctx context.Context, view, peerID, username string, ttl time.Duration) error
	RemoveFollower(ctx context.Context, view, peerID string) error
	Followers(ctx context.Context, view string) ([]Follower, error)
	Views(ctx context.Context) ([]string, error)
	RemoveView(ctx context.Context, view string) error
	SetCursor(ctx context.Context, view string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, view string) ([]byte, error)
}

type Follower struct {
	PeerID   string `json:"peerId"`
	Username string `json:"username"`
}

// 基于 redis 的实现；单机与集群都走 UniversalClient，键里的 {view} 保证同槽
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) FollowPresence {
	return &redisPresence{rdb: rdb}
}

// 清理过期跟随者，返回清掉的数量
var expireScript = redis.NewScript(`
-- KEYS[1] = followersKey(view)
-- KEYS[2] = namesKey(view)
-- ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

// AddFollower 登记或续期一个跟随者
func (p *redisPresence) AddFollower(ctx context.Context, view, peerID, username string, ttl time.Duration) error {
	expireAt := time.Now().Add(ttl).Unix()
	tx := p.rdb.TxPipeline()
	tx.ZAdd(ctx, followersKey(view), redis.Z{Score: float64(expireAt), Member: peerID})
	tx.HSet(ctx, namesKey(view), peerID, username)
	_, err := tx.Exec(ctx)
	if err != nil {
		return err
	}
	// 索引集合与视图键不一定同槽，单独写
	return p.rdb.SAdd(ctx, viewsKey(), view).Err()
}

func (p *redisPresence) RemoveFollower(ctx context.Context, view, peerID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, followersKey(view), peerID)
	tx.HDel(ctx, namesKey(view), peerID)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) Followers(ctx context.Context, view string) ([]Follower, error) {
	now := time.Now().Unix()
	if err := expireScript.Run(ctx, p.rdb, []string{followersKey(view), namesKey(view)}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	alive, err := p.rdb.ZRangeByScore(ctx, followersKey(view), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(alive) == 0 {
		return nil, nil
	}

	names, err := p.rdb.HMGet(ctx, namesKey(view), alive...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]Follower, 0, len(alive))
	for i, id := range alive {
		f := Follower{PeerID: id}
		if i < len(names) && names[i] != nil {
			f.Username, _ = names[i].(string)
		}
		out = append(out, f)
	}
	return out, nil
}

func (p *redisPresence) Views(ctx context.Context) ([]string, error) {
	views, err := p.rdb.SMembers(ctx, viewsKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return views, err
}

// RemoveView 视图关闭时清掉它的全部键
func (p *redisPresence) RemoveView(ctx context.Context, view string) error {
	tx := p.rdb.TxPipeline()
	tx.Del(ctx, followersKey(view), namesKey(view), cursorKey(view))
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}
	return p.rdb.SRem(ctx, viewsKey(), view).Err()
}

func (p *redisPresence) SetCursor(ctx context.Context, view string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(view), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, view string) ([]byte, error) {
	b, err := p.rdb.Get(ctx, cursorKey(view)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCursorNotFound
	}
	return b, err
}
