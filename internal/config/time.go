package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultPollDelay                = 3 * time.Second
	defaultBlocklistRefreshInterval = 6 * time.Hour
	defaultGeoLiteRefreshInterval   = 7 * 24 * time.Hour
)

var (
	pollDelay                  atomic.Value
	blocklistRefreshInterval   atomic.Value
	blocklistIntervalListeners []chan time.Duration
	listenersMu                sync.Mutex
)

func init() {
	pollDelay.Store(defaultPollDelay)
	blocklistRefreshInterval.Store(defaultBlocklistRefreshInterval)
}

func SetBetweenTime() {
	cfg := GetConfig()
	setPollDelay(calculatePollDelay(cfg))
	setBlocklistRefreshInterval(calculateBlocklistRefreshInterval(cfg))
}

// CalculateBetweenTime converts a timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfTimer(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfTimer(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func isZeroTimer(timer Timer) bool {
	return timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0
}

func GetPollDelay() time.Duration {
	return pollDelay.Load().(time.Duration)
}

func setPollDelay(delay time.Duration) {
	if delay <= 0 {
		delay = defaultPollDelay
	}
	pollDelay.Store(delay)
}

func calculatePollDelay(cfg Config) time.Duration {
	if isZeroTimer(cfg.Scanner.PollTimer) {
		return defaultPollDelay
	}
	return CalculateBetweenTime(cfg.Scanner.PollTimer)
}

func GetBlocklistRefreshInterval() time.Duration {
	return blocklistRefreshInterval.Load().(time.Duration)
}

// BlocklistIntervalUpdates returns a channel that receives the current interval
// immediately and every later change.
func BlocklistIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	blocklistIntervalListeners = append(blocklistIntervalListeners, ch)
	listenersMu.Unlock()

	ch <- GetBlocklistRefreshInterval()
	return ch
}

func setBlocklistRefreshInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultBlocklistRefreshInterval
	}

	if GetBlocklistRefreshInterval() == interval {
		return
	}

	blocklistRefreshInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range blocklistIntervalListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateBlocklistRefreshInterval(cfg Config) time.Duration {
	if isZeroTimer(cfg.Blocking.RefreshTimer) {
		return defaultBlocklistRefreshInterval
	}
	return CalculateBetweenTime(cfg.Blocking.RefreshTimer)
}

// GetGeoLiteRefreshInterval reads the database refresh timer from the current settings.
func GetGeoLiteRefreshInterval() time.Duration {
	timer := GetConfig().GeoLite.RefreshTimer
	if isZeroTimer(timer) {
		return defaultGeoLiteRefreshInterval
	}
	return CalculateBetweenTime(timer)
}
