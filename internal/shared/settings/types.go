package settings

import "regexp"

// ConfigurableModule is implemented by any component whose configuration
// can be hot-reloaded through the SettingsManager.
type ConfigurableModule interface {
	// OnSettingsUpdate is called whenever the named module's settings change.
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

// AdmissionSettings is the "admission" module: everything the HTTP surface
// (C7) and Request Queue (C4) need to decide whether to accept a submission.
type AdmissionSettings struct {
	PriceKey                string   `json:"price_key,omitempty"`
	BulkKey                 string   `json:"bulk_key,omitempty"`
	AuthKey                 string   `json:"auth_key,omitempty"`
	MaxSimultaneousRequests int      `json:"max_simultaneous_requests"`
	MaxQueueSize            int      `json:"max_queue_size"`
	AllowedOrigins          []string `json:"allowed_origins,omitempty"`
	AllowedRegexOrigins     []string `json:"allowed_regex_origins,omitempty"`
	RateLimitEnabled        bool     `json:"rate_limit_enabled"`
	RateLimitWindowSeconds  int      `json:"rate_limit_window_seconds"`
	RateLimitMaxRequests    int      `json:"rate_limit_max_requests"`
}

// CompiledOrigins returns the regex origin patterns compiled, skipping any
// that fail to compile.
func (a *AdmissionSettings) CompiledOrigins() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(a.AllowedRegexOrigins))
	for _, pattern := range a.AllowedRegexOrigins {
		if re, err := regexp.Compile(pattern); err == nil {
			out = append(out, re)
		}
	}
	return out
}

// FleetSettings is the "fleet" module. The Session Fleet Supervisor (C3)
// and Proxy Pool Scheduler (C2) do not read it, so changing it does not
// change the running fleet; the HTTP surface reports MaxOnlineBots as the
// /status target.
type FleetSettings struct {
	MaxOnlineBots     int    `json:"max_online_bots"`
	SelectionStrategy string `json:"selection_strategy"`
}

// RuntimeSettings is the top-level settings.json structure.
type RuntimeSettings struct {
	Admission *AdmissionSettings `json:"admission"`
	Fleet     *FleetSettings     `json:"fleet"`
}

func createDefaultSettings() *RuntimeSettings {
	return &RuntimeSettings{
		Admission: &AdmissionSettings{
			MaxSimultaneousRequests: 0,
			MaxQueueSize:            0,
		},
		Fleet: &FleetSettings{
			SelectionStrategy: "least_loaded",
		},
	}
}

func ensureDefaultModules(s *RuntimeSettings) {
	if s.Admission == nil {
		s.Admission = &AdmissionSettings{}
	}
	if s.Fleet == nil {
		s.Fleet = &FleetSettings{SelectionStrategy: "least_loaded"}
	}
}
