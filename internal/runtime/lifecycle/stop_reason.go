// Package lifecycle holds shutdown vocabulary shared by the app and its
// components.
package lifecycle

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopUnknown          StopReason = "unknown"
	StopSIGINT           StopReason = "sigint"
	StopSIGTERM          StopReason = "sigterm"
	StopFatalError       StopReason = "fatal_error"
	StopAppStop          StopReason = "app_stop"
	StopPluginQuarantine StopReason = "plugin_quarantine"
	StopConfigReload     StopReason = "config_reload"
)

func (r StopReason) String() string {
	if r == "" {
		return string(StopUnknown)
	}
	return string(r)
}
