package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/myrightwindow/rightwindow/utils"
)

const (
	pageViewPrefix    = "pv:"
	pageViewRetention = 8 * 24 * time.Hour
	pageViewDay       = "2006-01-02"
)

// PageViewCounter counts successful page loads per day and path, in redis when
// available and in memory otherwise.
type PageViewCounter struct {
	rc *redis.Client

	mu  sync.Mutex
	mem map[string]map[string]int64
}

func NewPageViewCounter(rc *redis.Client) *PageViewCounter {
	return &PageViewCounter{rc: rc, mem: map[string]map[string]int64{}}
}

// Recorder counts GET requests for site pages after they complete with 2xx or 3xx.
func (p *PageViewCounter) Recorder() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != http.MethodGet {
			return
		}
		if status := c.Writer.Status(); status < 200 || status >= 400 {
			return
		}
		path := c.Request.URL.Path
		if path == "/health" || strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/static/") || strings.HasPrefix(path, "/storage/") {
			return
		}
		p.Record(path, time.Now())
	}
}

// Record adds one view of path on the day of at.
func (p *PageViewCounter) Record(path string, at time.Time) {
	day := at.Format(pageViewDay)
	if p.rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		key := pageViewPrefix + day
		pipe := p.rc.TxPipeline()
		pipe.HIncrBy(ctx, key, path, 1)
		pipe.Expire(ctx, key, pageViewRetention)
		_, err := pipe.Exec(ctx)
		if err == nil {
			return
		}
		utils.Sugar.Debugw("page view counter fell back to memory", "error", err)
	}
	p.mu.Lock()
	paths, ok := p.mem[day]
	if !ok {
		paths = map[string]int64{}
		p.mem[day] = paths
	}
	paths[path]++
	p.mu.Unlock()
}

// Day returns the per-path views and their total for the day of at.
func (p *PageViewCounter) Day(ctx context.Context, at time.Time) (map[string]int64, int64) {
	day := at.Format(pageViewDay)
	out := map[string]int64{}
	if p.rc != nil {
		if vals, err := p.rc.HGetAll(ctx, pageViewPrefix+day).Result(); err == nil {
			for path, v := range vals {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					out[path] += n
				}
			}
		}
	}
	p.mu.Lock()
	for path, n := range p.mem[day] {
		out[path] += n
	}
	p.mu.Unlock()

	var total int64
	for _, n := range out {
		total += n
	}
	return out, total
}

// Sweep drops in-memory days older than the retention window.
func (p *PageViewCounter) Sweep(now time.Time) int {
	cutoff := now.Add(-pageViewRetention).Format(pageViewDay)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for day := range p.mem {
		if day < cutoff {
			delete(p.mem, day)
			n++
		}
	}
	return n
}
