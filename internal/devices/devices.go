// Package devices enumerates audio hardware and picks the capture and
// playback devices according to the configured routing mode.
//
// Routing is best-effort: when the preferred device is missing the selection
// silently falls back to the system default, so a detached USB microphone
// never prevents the greeter from starting.
package devices

// Kind distinguishes capture from playback hardware.
type Kind int

const (
	// Capture selects microphone-class devices.
	Capture Kind = iota

	// Playback selects speaker-class devices.
	Playback
)

func (k Kind) String() string {
	switch k {
	case Capture:
		return "capture"
	case Playback:
		return "playback"
	default:
		return "unknown"
	}
}

// Device describes one audio endpoint.
type Device struct {
	// ID is the backend-specific device identifier.
	ID string

	// Name is the human-readable device name.
	Name string

	// IsDefault marks the system default device of its kind.
	IsDefault bool
}

// Enumerator lists the available audio devices. Implementations must be safe
// for concurrent use.
type Enumerator interface {
	List(kind Kind) ([]Device, error)
}

// RouteMode selects which device the pipeline binds to.
type RouteMode string

const (
	// RouteAuto prefers a non-default device when one is present and binds
	// the system default otherwise.
	RouteAuto RouteMode = "auto"

	// RouteDefault always binds the system default device.
	RouteDefault RouteMode = "prefer-default"

	// RouteAlternate prefers the first non-default device of the kind, for
	// setups where the default is a built-in microphone and the store
	// counter uses an external one.
	RouteAlternate RouteMode = "prefer-alternate"
)

// Valid reports whether the mode is one of the known routing modes.
func (m RouteMode) Valid() bool {
	switch m {
	case RouteAuto, RouteDefault, RouteAlternate:
		return true
	}
	return false
}

// Select picks a device from the list according to the routing mode. The
// boolean is false only when the list is empty; every mode falls back to the
// default (or the first listed device) rather than failing.
func Select(list []Device, mode RouteMode) (Device, bool) {
	if len(list) == 0 {
		return Device{}, false
	}

	if mode == RouteAuto || mode == RouteAlternate {
		for _, d := range list {
			if !d.IsDefault {
				return d, true
			}
		}
	}

	for _, d := range list {
		if d.IsDefault {
			return d, true
		}
	}
	return list[0], true
}
