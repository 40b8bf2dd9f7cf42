package timeline

import (
	"time"

	"golang.org/x/time/rate"
)

// typingPublisher throttles outbound typing assertions. The first assertion
// after a stop always goes out; re-assertions are limited to one per second.
type typingPublisher struct {
	limiter *rate.Limiter
	tracked bool
}

func newTypingPublisher() *typingPublisher {
	return &typingPublisher{limiter: rate.NewLimiter(rate.Every(time.Second), 1)}
}

// assert reports whether a typing=true track should be published at now.
func (p *typingPublisher) assert(now time.Time) bool {
	allowed := p.limiter.AllowN(now, 1)
	if !p.tracked {
		p.tracked = true
		return true
	}
	return allowed
}

// clear reports whether a typing=false track is needed.
func (p *typingPublisher) clear() bool {
	was := p.tracked
	p.tracked = false
	return was
}
