package app

import "github.com/dkeye/Callbridge/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(cid domain.ConnectionID) BackpressureAction
}

// SimplePolicy disconnects slow consumers; their cleanup then runs through
// the regular disconnect path.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnectionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the frame.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(domain.ConnectionID) BackpressureAction {
	return DropFrame
}
