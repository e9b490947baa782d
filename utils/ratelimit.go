package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"linkfetch/internal"
)

// BandwidthLimiter caps the combined byte rate of every download worker
// sharing it. A rate of zero or less disables limiting.
type BandwidthLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

var _ internal.RateLimiter = (*BandwidthLimiter)(nil)

// NewBandwidthLimiter creates a limiter allowing bytesPerSecond, with a
// one-second burst
func NewBandwidthLimiter(bytesPerSecond int64) *BandwidthLimiter {
	l := &BandwidthLimiter{}
	l.SetRate(bytesPerSecond)
	return l
}

// Wait blocks until n bytes may be consumed or ctx is done. Requests larger
// than the burst are taken in burst-sized slices.
func (l *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	limiter := l.limiter.Load()
	if limiter.Limit() == rate.Inf {
		return ctx.Err()
	}
	for n > 0 {
		take := n
		if burst := limiter.Burst(); take > burst {
			take = burst
		}
		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// SetRate replaces the limit. Waits already in progress finish at the old
// rate.
func (l *BandwidthLimiter) SetRate(bytesPerSecond int64) {
	if bytesPerSecond <= 0 {
		l.limiter.Store(rate.NewLimiter(rate.Inf, 0))
		return
	}
	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond || burst <= 0 {
		burst = int(^uint(0) >> 1)
	}
	l.limiter.Store(rate.NewLimiter(rate.Limit(bytesPerSecond), burst))
}

// Rate returns the current limit in bytes per second, or 0 when unlimited
func (l *BandwidthLimiter) Rate() int64 {
	limit := l.limiter.Load().Limit()
	if limit == rate.Inf {
		return 0
	}
	return int64(limit)
}

var rateMultipliers = map[string]int64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
	"T":  1 << 40,
	"TB": 1 << 40,
}

// ParseRateLimit parses a bandwidth such as "500", "10M" or "1.5MB" into
// bytes per second. An empty string means unlimited.
func ParseRateLimit(rateStr string) (int64, error) {
	s := strings.TrimSpace(rateStr)
	if s == "" {
		return 0, nil
	}

	upper := strings.ToUpper(s)
	numEnd := len(upper)
	for numEnd > 0 && (upper[numEnd-1] < '0' || upper[numEnd-1] > '9') && upper[numEnd-1] != '.' {
		numEnd--
	}
	numStr, suffix := s[:numEnd], upper[numEnd:]

	multiplier, ok := rateMultipliers[suffix]
	if !ok {
		return 0, internal.NewValidationErrorWithValue("rate_limit",
			fmt.Sprintf("unsupported rate suffix %q", suffix), rateStr).
			WithSuggestion("Use B, K/KB, M/MB, G/GB or T/TB, e.g. 10M")
	}
	if numStr == "" {
		return 0, internal.NewValidationErrorWithValue("rate_limit", "missing numeric value", rateStr)
	}

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, internal.NewValidationErrorWithValue("rate_limit", "invalid numeric value", rateStr)
	}
	if value < 0 {
		return 0, internal.NewValidationErrorWithValue("rate_limit", "rate cannot be negative", rateStr)
	}

	result := value * float64(multiplier)
	if result >= 1<<63 {
		return 0, internal.NewValidationErrorWithValue("rate_limit", "rate value overflow", rateStr)
	}
	return int64(result), nil
}
