package model

// Check describes one (target, environment, feature set) combination that a
// crate must be built and tested against. Checks are loaded once at startup
// and never mutated.
type Check struct {
	// TargetTriple is the platform triple the crate is compiled for.
	TargetTriple string `json:"target"`

	// HostEnv optionally names a host environment variation (for example a
	// modified container image) required by this check.
	HostEnv string `json:"host_env,omitempty"`

	// Features to enable when building.
	Features []string `json:"features,omitempty"`

	// NoDefaultFeatures turns off the crate's default feature set.
	NoDefaultFeatures bool `json:"no_default_features,omitempty"`

	// Niche marks checks that are skipped in the general CI case.
	Niche bool `json:"niche,omitempty"`
}

// Crate pairs a crate name with the ordered checks to run against it.
type Crate struct {
	Name   string  `json:"name"`
	Checks []Check `json:"checks"`
}
