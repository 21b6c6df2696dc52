package release

// Descriptor is the freshly resolved release for a channel.
type Descriptor struct {
	// Channel is the requested distribution variant.
	Channel Channel
	// URL is the absolute download link of the archive.
	URL string
	// Identity is compared for equality against the cached value.
	Identity string
}

// Action is the outcome of Decide.
type Action int

const (
	// ActionSkip leaves the installation untouched.
	ActionSkip Action = iota
	// ActionApply fetches and merges the resolved release.
	ActionApply
)

func (a Action) String() string {
	if a == ActionApply {
		return "apply"
	}

	return "skip"
}

// Decide returns ActionApply when force is set, when nothing is cached for the
// channel, or when the cached identity differs from the resolved one.
// Identities are compared as exact strings; no version ordering is applied, so
// a resolver reporting an older build still triggers an update.
func Decide(cached string, hasCached bool, resolved string, force bool) Action {
	if force || !hasCached || cached != resolved {
		return ActionApply
	}

	return ActionSkip
}
