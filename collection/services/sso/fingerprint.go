package sso

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// VisitorID is the 32 hex char client fingerprint the portal uses to
// recognise trusted devices. It only changes when the host does.
func VisitorID() string {
	info := map[string]string{
		"platform":  runtime.GOOS,
		"machine":   runtime.GOARCH,
		"processor": fmt.Sprint(runtime.NumCPU()),
		"version":   runtime.Version(),
		"mac":       firstMAC(),
	}
	if host, err := os.Hostname(); err == nil {
		info["hostname"] = host
	}
	return visitorIDFrom(info)
}

func visitorIDFrom(info map[string]string) string {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + info[k]
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

func firstMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
