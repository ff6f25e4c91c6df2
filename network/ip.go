package network

import (
	"strconv"
	"strings"
)

// IsValidIPAddress reports whether s is a dotted-quad IPv4 address other
// than 0.0.0.0, which modems report while no address is assigned.
func IsValidIPAddress(s string) bool {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return false
	}
	zero := true
	for _, o := range octets {
		if o == "" || strings.TrimSpace(o) != o {
			return false
		}
		v, err := strconv.ParseUint(o, 10, 8)
		if err != nil {
			return false
		}
		if v != 0 {
			zero = false
		}
	}
	return !zero
}
