package helpers

import "strings"

// FirstAddress returns the first address of a list, or fallback when it is empty.
func FirstAddress(addresses []string, fallback string) string {
	if len(addresses) == 0 {
		return fallback
	}
	return addresses[0]
}

// JoinAddresses joins addresses with commas, skipping empty entries.
func JoinAddresses(addresses []string) string {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return strings.Join(out, ",")
}
