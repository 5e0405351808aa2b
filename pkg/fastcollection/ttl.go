package fastcollection

import (
	"math"
	"time"
)

// NoExpiry keeps an element until it is removed. Any negative TTL means the
// same.
const NoExpiry time.Duration = -1

// expiryFor converts a TTL given at time now into a stored expiry.
func expiryFor(now int64, ttl time.Duration) int64 {
	if ttl < 0 {
		return 0
	}

	if ttl == 0 {
		// 0 is the "never" marker; a clock at the epoch still expires.
		return max(now, 1)
	}

	exp := now + int64(ttl)
	if exp < now {
		return math.MaxInt64
	}

	return exp
}

func isExpired(exp, now int64) bool {
	return exp != 0 && now >= exp
}

// remaining reports the TTL left on a live element.
func remaining(exp, now int64) time.Duration {
	if exp == 0 {
		return NoExpiry
	}

	return time.Duration(exp - now)
}

// noteExpiry lowers the header's next-expiry watermark to exp.
func noteExpiry(d []byte, exp int64) {
	if exp == 0 {
		return
	}

	for {
		cur := loadI64(d, offNextExpiry)
		if cur != 0 && cur <= exp {
			return
		}

		if casI64(d, offNextExpiry, cur, exp) {
			return
		}
	}
}

// settleExpiry replaces the watermark observed at the start of a full scan
// with the exact minimum the scan found. A concurrent noteExpiry (stack
// pushes do not take the collection lock) wins by keeping the lower value.
func settleExpiry(d []byte, observed, found int64) {
	if casI64(d, offNextExpiry, observed, found) {
		return
	}

	noteExpiry(d, found)
}

// sweepDue reports whether any element can have expired by now.
func sweepDue(d []byte, now int64) bool {
	wm := loadI64(d, offNextExpiry)

	return wm != 0 && wm <= now
}

// minExpiry folds exp into a running minimum of finite expiries.
func minExpiry(cur, exp int64) int64 {
	if exp == 0 {
		return cur
	}

	if cur == 0 || exp < cur {
		return exp
	}

	return cur
}
