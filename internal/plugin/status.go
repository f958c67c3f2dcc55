package plugin

import "time"

type PluginHealthResult struct {
	Plugin string    `json:"plugin"`
	At     time.Time `json:"at"`
	Status string    `json:"status"`
	Err    string    `json:"err,omitempty"`
	Fails  int       `json:"fails,omitempty"`
}

type PluginStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Commands  int       `json:"commands"`

	// Quarantined plugins failed Init or Start and stay down until restart.
	Quarantined   bool   `json:"quarantined"`
	QuarantineErr string `json:"quarantine_err,omitempty"`

	LastHealth PluginHealthResult `json:"last_health"`
}

type PluginsSnapshot struct {
	Time    time.Time      `json:"time"`
	Plugins []PluginStatus `json:"plugins"`
}
