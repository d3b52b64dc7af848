package event

import "runtime"

// Context is the device/app snapshot attached to every event at creation.
type Context struct {
	Locale     string `json:"locale,omitempty"`
	OSName     string `json:"osName,omitempty"`
	OSVersion  string `json:"osVersion,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
	AppBuild   string `json:"appBuild,omitempty"`
	Device     string `json:"device,omitempty"`
}

// ContextProvider returns the current device/app context snapshot.
// Implementations must never fail; on any internal error they should
// return DefaultContext().
type ContextProvider func() Context

// DefaultContext returns a minimal context record derived from the runtime.
// Used as the fallback when no provider is configured or a provider returns
// a zero value.
func DefaultContext() Context {
	return Context{
		OSName: runtime.GOOS,
		Device: runtime.GOARCH,
	}
}
