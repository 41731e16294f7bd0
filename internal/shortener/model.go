package shortener

// ResolutionKind tells the HTTP layer how to answer a resolve request.
type ResolutionKind int

const (
	// Redirect sends the client to the stored destination.
	Redirect ResolutionKind = iota
	// RedirectDefault sends the client to the site root; used for blank slugs.
	RedirectDefault
)

// DefaultLocation is where RedirectDefault points.
const DefaultLocation = "/"

func (k ResolutionKind) String() string {
	switch k {
	case Redirect:
		return "redirect"
	case RedirectDefault:
		return "redirect_default"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of resolving a slug.
type Resolution struct {
	Kind     ResolutionKind
	Location string
}
