package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence 在线状态的 redis 镜像，尽力而为：
// 房间成员关系以内存注册表为准，这里只是给外部系统看的影子。
// 未配置 redis 时 p 为 nil，所有方法都是空操作。

const presenceTTL = 2 * time.Minute

type Presence struct {
	rdb *redis.Client
}

type PresenceConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewPresence(c PresenceConfig) (*Presence, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Presence{rdb: rdb}, nil
}

func (p *Presence) Close() {
	if p != nil && p.rdb != nil {
		_ = p.rdb.Close()
	}
}

// presence key: sheet:presence:<key>:<user>，值是 display name，TTL 控制有效期
func presenceKey(sheetKey, userID string) string {
	return "sheet:presence:" + sheetKey + ":" + userID
}

// Online 标记在线并续期
func (p *Presence) Online(ctx context.Context, sheetKey, userID, displayName string) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Set(ctx, presenceKey(sheetKey, userID), displayName, presenceTTL).Err()
}

// Offline 主动下线（删 key）
func (p *Presence) Offline(ctx context.Context, sheetKey, userID string) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Del(ctx, presenceKey(sheetKey, userID)).Err()
}

// List 某个表格当前镜像中的在线用户
func (p *Presence) List(ctx context.Context, sheetKey string) ([]string, error) {
	if p == nil || p.rdb == nil {
		return nil, nil
	}
	keys, err := p.rdb.Keys(ctx, "sheet:presence:"+sheetKey+":*").Result()
	if err != nil {
		return nil, err
	}
	prefix := len("sheet:presence:" + sheetKey + ":")
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[prefix:])
	}
	return out, nil
}
