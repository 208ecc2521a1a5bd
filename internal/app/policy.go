package app

import "github.com/dkeye/Pulse/internal/core"

type BackpressureAction int

const (
	// DropOldest keeps the member; its queue already shed the oldest frames.
	DropOldest BackpressureAction = iota
	KickMember
)

type Policy interface {
	OnBackPressure(room *core.Room, member *core.Session) BackpressureAction
}

type DropOldestPolicy struct{}

func (DropOldestPolicy) OnBackPressure(*core.Room, *core.Session) BackpressureAction {
	return DropOldest
}

type KickPolicy struct{}

func (KickPolicy) OnBackPressure(*core.Room, *core.Session) BackpressureAction {
	return KickMember
}

// PolicyFor maps the configured backpressure mode to a Policy.
func PolicyFor(mode string) Policy {
	if mode == "kick" {
		return KickPolicy{}
	}
	return DropOldestPolicy{}
}
