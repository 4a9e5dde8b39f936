package filter

// Profile parameterises the double-exponential joint filter.
type Profile struct {
	Name string
	// Smoothing in [0,1): higher values weight history more.
	Smoothing float64
	// Correction in [0,1]: how fast the trend follows the data.
	Correction float64
	// Prediction is the number of frames to extrapolate.
	Prediction float64
	// JitterRadius in metres; smaller displacements are damped as noise.
	JitterRadius float64
	// MaxDeviationRadius in metres caps how far prediction may move the
	// output from the raw sample.
	MaxDeviationRadius float64
}

// Enabled reports whether the profile filters at all.
func (p Profile) Enabled() bool {
	return p.Name != ProfileNone.Name
}

// Built-in profiles.
var (
	ProfileNone       = Profile{Name: "none"}
	ProfileDefault    = Profile{Name: "default", Smoothing: 0.5, Correction: 0.5, Prediction: 0.5, JitterRadius: 0.05, MaxDeviationRadius: 0.04}
	ProfileLight      = Profile{Name: "light", Smoothing: 0.3, Correction: 0.35, Prediction: 0.3, JitterRadius: 0.05, MaxDeviationRadius: 0.05}
	ProfileMedium     = Profile{Name: "medium", Smoothing: 0.5, Correction: 0.1, Prediction: 0.5, JitterRadius: 0.1, MaxDeviationRadius: 0.1}
	ProfileAggressive = Profile{Name: "aggressive", Smoothing: 0.7, Correction: 0.3, Prediction: 1.0, JitterRadius: 1.0, MaxDeviationRadius: 1.0}
)

var profiles = []Profile{ProfileNone, ProfileDefault, ProfileLight, ProfileMedium, ProfileAggressive}

// ParseProfile returns the built-in profile with the given name.
func ParseProfile(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
