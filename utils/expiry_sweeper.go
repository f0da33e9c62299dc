package utils

import (
	"context"
	"time"
)

// Sweeper purges expired entries as of now and reports how many were removed.
type Sweeper func(now time.Time) int

// StartExpirySweeper periodically purges the in-process fallback stores (revoked tokens,
// delete confirmations, login failure windows) plus any extra sweepers supplied.
// It stops when ctx is done.
func StartExpirySweeper(ctx context.Context, interval time.Duration, extra ...Sweeper) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	sweepers := append([]Sweeper{sweepBlacklist, sweepConfirmations, sweepLoginFails}, extra...)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed := 0
				for _, s := range sweepers {
					removed += s(now)
				}
				if removed > 0 {
					Sugar.Debugf("expiry sweeper removed %d entries", removed)
				}
			}
		}
	}()
}
