package utils

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/myrightwindow/rightwindow/config"
)

type failWindow struct {
	count     int
	resetAt   time.Time
	bannedTil time.Time
}

var (
	loginFails   = map[string]*failWindow{}
	loginFailsMu sync.Mutex
)

func loginKey(parts ...string) string {
	return "login:" + strings.Join(parts, ":")
}

// LoginIsBanned checks whether the address is temporarily blocked from signing in.
func LoginIsBanned(ip string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if n, err := rc.Exists(ctx, loginKey("ban", ip)).Result(); err == nil {
			return n > 0
		}
	}
	loginFailsMu.Lock()
	defer loginFailsMu.Unlock()
	w, ok := loginFails[ip]
	return ok && time.Now().Before(w.bannedTil)
}

// LoginFailRecord counts a failed sign-in for the current hour and bans the address
// once the configured threshold is reached. It returns the current count.
func LoginFailRecord(ip string) int {
	cfg := config.Get()
	limit := cfg.LoginMaxFailuresPerHour
	ban := time.Duration(cfg.LoginBanMinutes) * time.Minute

	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		key := loginKey("failhour", ip, time.Now().Format("2006010215"))
		n, err := rc.Incr(ctx, key).Result()
		if err == nil {
			_ = rc.Expire(ctx, key, time.Hour).Err()
			if limit > 0 && int(n) >= limit {
				_ = rc.Set(ctx, loginKey("ban", ip), "1", ban).Err()
				Sugar.Warnf("login temporarily blocked ip=%s failures=%d", ip, n)
			}
			return int(n)
		}
	}

	now := time.Now()
	loginFailsMu.Lock()
	defer loginFailsMu.Unlock()
	w, ok := loginFails[ip]
	if !ok || !now.Before(w.resetAt) {
		w = &failWindow{resetAt: now.Add(time.Hour)}
		loginFails[ip] = w
	}
	w.count++
	if limit > 0 && w.count >= limit {
		w.bannedTil = now.Add(ban)
		Sugar.Warnf("login temporarily blocked ip=%s failures=%d", ip, w.count)
	}
	return w.count
}

// LoginFailReset clears the failure counter after a successful sign-in.
func LoginFailReset(ip string) {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_ = rc.Del(ctx, loginKey("failhour", ip, time.Now().Format("2006010215"))).Err()
	}
	loginFailsMu.Lock()
	delete(loginFails, ip)
	loginFailsMu.Unlock()
}

func sweepLoginFails(now time.Time) int {
	loginFailsMu.Lock()
	defer loginFailsMu.Unlock()
	n := 0
	for ip, w := range loginFails {
		if !now.Before(w.resetAt) && !now.Before(w.bannedTil) {
			delete(loginFails, ip)
			n++
		}
	}
	return n
}
