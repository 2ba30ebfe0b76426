package flavor

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/bardlex/cryptodecoy/internal/notify"
)

// SystemInfo is the host summary attached to detailed miner reports
type SystemInfo struct {
	Hostname     string
	IP           string
	OS           string
	Architecture string
	CPUCount     int
	GoVersion    string
}

// CollectSystemInfo reads the local host details. It never fails; unknown
// values fall back to placeholders.
func CollectSystemInfo() SystemInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return SystemInfo{
		Hostname:     hostname,
		IP:           OutboundIP(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCount:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// OutboundIP returns the local address the host would route public traffic
// from. Connecting a UDP socket sends no packets.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// Text renders the summary one "*key*: value" line per entry
func (s SystemInfo) Text() string {
	lines := []string{
		"*hostname*: " + s.Hostname,
		"*ip*: " + s.IP,
		"*os*: " + s.OS,
		"*architecture*: " + s.Architecture,
		fmt.Sprintf("*cpu_count*: %d", s.CPUCount),
		"*runtime*: " + s.GoVersion,
	}
	return strings.Join(lines, "\n")
}

// Field renders the summary as a report field
func (s SystemInfo) Field() notify.Field {
	return notify.Field{Title: "System Information", Value: s.Text(), Short: false}
}
