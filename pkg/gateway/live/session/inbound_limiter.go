package session

import "time"

type tokenBucket struct {
	rate   int64
	tokens int64
	max    int64
}

func (b *tokenBucket) refill(elapsed time.Duration) {
	if b.rate <= 0 {
		return
	}
	add := (elapsed.Nanoseconds() * b.rate) / int64(time.Second)
	if add <= 0 {
		return
	}
	b.tokens += add
	if b.tokens > b.max {
		b.tokens = b.max
	}
}

// inboundAudioLimiter bounds the rate of client audio frames by both frame
// count and bytes per second. A nil limiter allows everything.
type inboundAudioLimiter struct {
	now        func() time.Time
	frames     tokenBucket
	bytes      tokenBucket
	lastRefill time.Time
}

func newInboundAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundAudioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &inboundAudioLimiter{now: now, lastRefill: now()}
	if fps > 0 {
		max := int64(fps) * int64(burstSeconds)
		l.frames = tokenBucket{rate: int64(fps), tokens: max, max: max}
	}
	if bps > 0 {
		max := bps * int64(burstSeconds)
		l.bytes = tokenBucket{rate: bps, tokens: max, max: max}
	}
	return l
}

func (l *inboundAudioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	if elapsed := now.Sub(l.lastRefill); elapsed > 0 {
		l.frames.refill(elapsed)
		l.bytes.refill(elapsed)
	}
	l.lastRefill = now

	if frameBytes < 0 {
		frameBytes = 0
	}
	if l.frames.rate > 0 && l.frames.tokens < 1 {
		return false
	}
	if l.bytes.rate > 0 && l.bytes.tokens < int64(frameBytes) {
		return false
	}
	if l.frames.rate > 0 {
		l.frames.tokens--
	}
	if l.bytes.rate > 0 {
		l.bytes.tokens -= int64(frameBytes)
	}
	return true
}
