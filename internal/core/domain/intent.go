package domain

// ProxyIntent is the proxy-exposure declaration a service carries in its
// compose file under the x-magic-proxy extension key.
type ProxyIntent struct {
	// Template names the config template the backend renders for this app.
	Template string `json:"template" yaml:"template" validate:"required"`
	// Target is the upstream URL the proxy should forward to. Must be http(s).
	Target string `json:"target" yaml:"target" validate:"required"`
	// Hostname is the public hostname the app is exposed under.
	Hostname string `json:"hostname" yaml:"hostname" validate:"required"`

	// Idle is an optional idle descriptor (e.g. "30m"). Opaque to the
	// controller; surfaced in the status API only.
	Idle any `json:"idle,omitempty" yaml:"idle,omitempty"`
	// Auth is an optional auth descriptor, passed through untouched.
	Auth map[string]any `json:"auth,omitempty" yaml:"auth,omitempty"`
	// UserData holds extra template variables. Values must be flat scalars
	// (string, number or null); nesting is rejected at validation time.
	UserData map[string]any `json:"userData,omitempty" yaml:"userData,omitempty"`
}
