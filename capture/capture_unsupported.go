//go:build !linux && !darwin && !windows

package capture

import "fmt"

func open(options *Options) (*Stream, error) {
	if _, err := validateOpenOptions(options); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: no backend for this operating system", ErrNotImplemented)
}
