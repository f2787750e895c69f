package tools

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Runner executes a tool invocation.
type Runner interface {
	Run(ctx context.Context, id ID, args Args) Result
}

// CachingRunner memoizes successful results for a short TTL so repeated
// identical calls within a session do not hit the host again.
type CachingRunner struct {
	next  Runner
	cache *expirable.LRU[string, Result]
}

// NewCachingRunner wraps next. A ttl of zero disables caching and returns
// next's results unchanged.
func NewCachingRunner(next Runner, size int, ttl time.Duration) *CachingRunner {
	c := &CachingRunner{next: next}
	if ttl > 0 {
		if size <= 0 {
			size = 128
		}
		c.cache = expirable.NewLRU[string, Result](size, nil, ttl)
	}
	return c
}

func cacheKey(id ID, args Args) string {
	return string(id) + " " + args.String()
}

// Run returns a cached result when present, otherwise runs the tool.
func (c *CachingRunner) Run(ctx context.Context, id ID, args Args) Result {
	if c.cache == nil {
		return c.next.Run(ctx, id, args)
	}
	key := cacheKey(id, args)
	if res, ok := c.cache.Get(key); ok {
		return res
	}
	res := c.next.Run(ctx, id, args)
	if res.Success {
		c.cache.Add(key, res)
	}
	return res
}
