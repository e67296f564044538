//go:build !linux

package capture

import "context"

// Run always fails: V4L2 needs linux.
func (v *V4L2) Run(ctx context.Context) error {
	return ErrV4L2Unsupported
}
