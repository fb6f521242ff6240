package wtransport

import (
	"fmt"
	"strings"
)

// SplitEndpoint splits an endpoint of the form "scheme://rest"
// into its scheme and transport-specific remainder.
func SplitEndpoint(endpoint string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok {
		return "", "", fmt.Errorf("endpoint %q missing scheme separator", endpoint)
	}
	if scheme == "" {
		return "", "", fmt.Errorf("endpoint %q has empty scheme", endpoint)
	}
	return scheme, rest, nil
}
