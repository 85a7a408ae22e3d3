package engine

import "github.com/ticksync/ticksync/internal/core/transport"

// OfficialTime derives the deterministic effect time of a post. The
// originator's clock wins unless it trails the broker's stamp by
// tolerance or more; then the post is clamped to serverTime-tolerance,
// the earliest moment the broker could vouch for. A client time ahead
// of the broker's stamp always wins.
func OfficialTime(clientTime, serverTime, tolerance int64) int64 {
	floor := serverTime - tolerance
	if clientTime > floor {
		return clientTime
	}
	return floor
}

// TimeToTick maps milliseconds to a tick at the given rate.
func TimeToTick(ms int64, tickRate int) int64 {
	n := ms * int64(tickRate)
	if n < 0 && n%1000 != 0 {
		return n/1000 - 1
	}
	return n / 1000
}

// OfficialTick is the tick at which a post takes effect. Every
// participant applying this to the same post computes the same tick.
func OfficialTick(p transport.Post, tolerance int64, tickRate int) int64 {
	return TimeToTick(OfficialTime(p.ClientTime, p.ServerTime, tolerance), tickRate)
}
