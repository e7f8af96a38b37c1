//go:build !windows && !linux && !freebsd && !openbsd && !netbsd

package osquery

import "github.com/rs/zerolog"

func newPlatform(zerolog.Logger) (Querier, error) {
	return nil, ErrUnsupported
}
