package telemetry

import (
	"fmt"
	"time"
)

// FormatRuntime renders d as HH:MM:SS; hours are not wrapped at 24
func FormatRuntime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// HashrateUnit returns the unit miners of algo usually report in
func HashrateUnit(algo string) string {
	switch algo {
	case "randomx", "cryptonight":
		return "KH/s"
	default:
		return "MH/s"
	}
}

// FormatHashrate renders h with two decimals and the algorithm's unit
func FormatHashrate(h float64, algo string) string {
	return fmt.Sprintf("%.2f %s", h, HashrateUnit(algo))
}

// FormatShares renders the accepted/found pair used in status fields
func (s Snapshot) FormatShares() string {
	return fmt.Sprintf("%d/%d", s.SharesAccepted, s.SharesFound)
}

// FormatSharesDetailed renders all three counters
func (s Snapshot) FormatSharesDetailed() string {
	return fmt.Sprintf("Found: %d, Accepted: %d, Rejected: %d", s.SharesFound, s.SharesAccepted, s.SharesRejected)
}
