//go:build !linux

package camera

import "github.com/pkg/errors"

type V4L2Options struct {
	Path  string
	HFlip bool
	VFlip bool
}

func NewV4L2(opts V4L2Options) Subsystem {
	return stubSubsystem{}
}

type stubSubsystem struct{}

func (stubSubsystem) Open() (Camera, error) {
	return nil, errors.New("V4L2 capture requires linux")
}

func (stubSubsystem) Close() error { return nil }
