package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 房间在线成员。只记录“谁在房间里”，不记录光标（光标是纯转发，不落地）
type PresenceCache interface {
	AddMember(ctx context.Context, roomID, userID string, ttl time.Duration) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	Refresh(ctx context.Context, roomID, userID string, ttl time.Duration) error
	GetRooms(ctx context.Context) ([]string, error)
	GetAliveMembers(ctx context.Context, roomID string) ([]PresenceMember, error)
}

type PresenceMember struct {
	UserID      string    `json:"userId"`
	Connections int       `json:"connections"`
	ExpireAt    time.Time `json:"expireAt"`
}

// 具体实现：基于 redis 的 PresenceCache。UniversalClient 同时兼容单机和集群
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// 连接数减一，归零时把成员移出房间
var removeMemberScript = redis.NewScript(`
-- KEYS[1] = roomKey(roomID)
-- KEYS[2] = connsKey(roomID)
-- ARGV[1] = userId
local n = redis.call("HINCRBY", KEYS[2], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[2], ARGV[1])
	redis.call("ZREM", KEYS[1], ARGV[1])
end
return n
`)

// 清理过期成员，约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
var expireMembersScript = redis.NewScript(`
-- KEYS[1] = roomKey(roomID)
-- KEYS[2] = connsKey(roomID)
-- ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) AddMember(ctx context.Context, roomID, userID string, ttl time.Duration) error {
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx := p.rdb.TxPipeline()
	tx.ZAdd(ctx, roomKey(roomID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HIncrBy(ctx, connsKey(roomID), userID, 1)
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}
	// 索引集合在另一个 slot，不能放进同一个事务
	return p.rdb.SAdd(ctx, roomsKey(), roomID).Err()
}

func (p *redisPresence) RemoveMember(ctx context.Context, roomID, userID string) error {
	err := removeMemberScript.Run(ctx, p.rdb, []string{roomKey(roomID), connsKey(roomID)}, userID).Err()
	if err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// Refresh 只刷新已存在成员的过期时间（XX），已离开的成员不会被“复活”
func (p *redisPresence) Refresh(ctx context.Context, roomID, userID string, ttl time.Duration) error {
	expireAt := time.Now().Add(ttl).Unix()
	return p.rdb.ZAddXX(ctx, roomKey(roomID), redis.Z{Score: float64(expireAt), Member: userID}).Err()
}

func (p *redisPresence) GetRooms(ctx context.Context) ([]string, error) {
	rooms, err := p.rdb.SMembers(ctx, roomsKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return rooms, nil
}

func (p *redisPresence) GetAliveMembers(ctx context.Context, roomID string) ([]PresenceMember, error) {
	// step1: 清理过期成员
	now := time.Now().Unix()
	_, err := expireMembersScript.Run(ctx, p.rdb, []string{roomKey(roomID), connsKey(roomID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询在线成员
	alive, err := p.rdb.ZRangeByScoreWithScores(ctx, roomKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(alive) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(alive))
	for _, z := range alive {
		id, _ := z.Member.(string)
		ids = append(ids, id)
	}

	// step3: 批量获取连接数
	counts, err := p.rdb.HMGet(ctx, connsKey(roomID), ids...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(ids))
	for i, id := range ids {
		n := 0
		if i < len(counts) && counts[i] != nil {
			if s, ok := counts[i].(string); ok {
				n, _ = strconv.Atoi(s)
			}
		}
		members = append(members, PresenceMember{
			UserID:      id,
			Connections: n,
			ExpireAt:    time.Unix(int64(alive[i].Score), 0),
		})
	}
	return members, nil
}
