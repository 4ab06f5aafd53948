package capture

import "github.com/dgnsrekt/apiscope/internal/types"

// Limits bounds what a capture record may hold.
type Limits struct {
	MaxURLChars        int
	ClientMaxBodyBytes int
	ServerMaxBodyBytes int
	MaxHeaderBytes     int
}

// DefaultLimits returns the stock capture limits.
func DefaultLimits() Limits {
	return Limits{
		MaxURLChars:        2000,
		ClientMaxBodyBytes: 5 * 1024,
		ServerMaxBodyBytes: 50 * 1024,
		MaxHeaderBytes:     2 * 1024,
	}
}

func (l Limits) bodyLimit(source string) int {
	if source == types.SourceClient {
		return l.ClientMaxBodyBytes
	}
	return l.ServerMaxBodyBytes
}
