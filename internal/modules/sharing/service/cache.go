package service

import (
	"context"
	"strconv"
	"time"

	"deux_backend/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

type Loader interface {
	Subscribers(ctx context.Context, shareGroupID int64) ([]models.Subscriber, error)
}

// SubscriberCache: ограниченный TTL-кэш состава групп. Явной инвалидации
// нет: состав меняется редко, устаревание не дольше ttl.
type SubscriberCache struct {
	loader Loader
	lru    *expirable.LRU[int64, []models.Subscriber]
	group  singleflight.Group
}

func NewSubscriberCache(loader Loader, size int, ttl time.Duration) *SubscriberCache {
	if size <= 0 {
		size = 128
	}
	return &SubscriberCache{
		loader: loader,
		lru:    expirable.NewLRU[int64, []models.Subscriber](size, nil, ttl),
	}
}

// Subscribers отдаёт из кэша, параллельные промахи по одной группе идут в
// базу одним запросом.
func (c *SubscriberCache) Subscribers(ctx context.Context, shareGroupID int64) ([]models.Subscriber, error) {
	if subs, ok := c.lru.Get(shareGroupID); ok {
		return subs, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(shareGroupID, 10), func() (any, error) {
		subs, err := c.loader.Subscribers(ctx, shareGroupID)
		if err != nil {
			return nil, err
		}
		c.lru.Add(shareGroupID, subs)
		return subs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Subscriber), nil
}
