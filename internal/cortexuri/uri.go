// Package cortexuri implements the cortex:// addressing scheme: parsing,
// validation, rendering, and the handful of constructors callers use for the
// common URI shapes (user preferences, agent cases, session timelines,
// shared resources).
package cortexuri

import (
	"fmt"
	"strings"
	"time"

	"cortex/internal/cortexerr"
)

// Dimension is the top URI segment; it governs semantic scope.
type Dimension string

const (
	DimUser      Dimension = "user"
	DimAgent     Dimension = "agent"
	DimSession   Dimension = "session"
	DimResources Dimension = "resources"
)

// legacy aliases accepted by scope normalization (§4.6 step 2), not by the
// parser itself — the parser is total and strict per §4.1.
var legacyAliases = map[string]Dimension{
	"threads": DimSession,
	"agents":  DimSession,
	"users":   DimSession,
	"global":  DimSession,
}

func (d Dimension) valid() bool {
	switch d {
	case DimUser, DimAgent, DimSession, DimResources:
		return true
	}
	return false
}

const scheme = "cortex://"

// AbstractName and OverviewName are the reserved sibling filenames for the
// L0/L1 layers of a directory.
const (
	AbstractName = ".abstract.md"
	OverviewName = ".overview.md"
)

// URI is a parsed cortex:// address.
type URI struct {
	Dimension   Dimension
	Category    string
	Subcategory string
	Resource    string
}

// Parse is total: it returns a structured URI or a cortexerr.Error of kind
// InvalidScheme / InvalidPath / InvalidDimension. It never panics.
func Parse(raw string) (URI, error) {
	if !strings.HasPrefix(raw, scheme) {
		return URI{}, cortexerr.New(cortexerr.InvalidScheme, fmt.Sprintf("uri %q does not start with %s", raw, scheme))
	}
	rest := strings.TrimPrefix(raw, scheme)
	if rest == "" {
		return URI{}, cortexerr.New(cortexerr.InvalidPath, "uri has no path after scheme")
	}
	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" {
			return URI{}, cortexerr.New(cortexerr.InvalidPath, fmt.Sprintf("uri %q contains an empty path segment", raw))
		}
	}

	dim := Dimension(parts[0])
	if !dim.valid() {
		return URI{}, cortexerr.New(cortexerr.InvalidDimension, fmt.Sprintf("unknown dimension %q", parts[0]))
	}

	u := URI{Dimension: dim}
	switch len(parts) {
	case 1:
		// dimension root, e.g. cortex://resources
	case 2:
		u.Category = parts[1]
	case 3:
		u.Category = parts[1]
		u.Subcategory = parts[2]
	default:
		u.Category = parts[1]
		u.Subcategory = parts[2]
		u.Resource = strings.Join(parts[3:], "/")
	}
	return u, nil
}

// MustParse panics on invalid input; only for use with compile-time-constant
// literals (tests, constructors below).
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// String renders the URI back to its canonical cortex:// form. Parse(render(u))
// == u for any valid u (§8 round-trip property).
func (u URI) String() string {
	segs := []string{string(u.Dimension)}
	if u.Category != "" {
		segs = append(segs, u.Category)
	}
	if u.Subcategory != "" {
		segs = append(segs, u.Subcategory)
	}
	if u.Resource != "" {
		segs = append(segs, u.Resource)
	}
	return scheme + strings.Join(segs, "/")
}

// IsHidden reports whether the final resource/subcategory segment begins
// with a dot, i.e. it is an abstract/overview sibling or otherwise hidden.
func (u URI) IsHidden() bool {
	last := u.lastSegment()
	return strings.HasPrefix(last, ".")
}

func (u URI) lastSegment() string {
	if u.Resource != "" {
		parts := strings.Split(u.Resource, "/")
		return parts[len(parts)-1]
	}
	if u.Subcategory != "" {
		return u.Subcategory
	}
	return u.Category
}

// Parent returns the URI for the directory containing u. For a resource
// file this strips the resource; for a subcategory-only URI it strips the
// subcategory, and so on. Calling Parent on a dimension root is a no-op.
func (u URI) Parent() URI {
	if u.Resource != "" {
		parts := strings.Split(u.Resource, "/")
		if len(parts) > 1 {
			p := u
			p.Resource = strings.Join(parts[:len(parts)-1], "/")
			return p
		}
		p := u
		p.Resource = ""
		return p
	}
	if u.Subcategory != "" {
		p := u
		p.Subcategory = ""
		return p
	}
	if u.Category != "" {
		p := u
		p.Category = ""
		return p
	}
	return u
}

// Child appends a path segment to u, growing Category -> Subcategory ->
// Resource, or appending onto an existing Resource.
func (u URI) Child(seg string) URI {
	c := u
	switch {
	case c.Category == "":
		c.Category = seg
	case c.Subcategory == "":
		c.Subcategory = seg
	case c.Resource == "":
		c.Resource = seg
	default:
		c.Resource = c.Resource + "/" + seg
	}
	return c
}

// Abstract returns the URI of this directory's L0 sibling.
func (u URI) Abstract() URI { return u.Child(AbstractName) }

// Overview returns the URI of this directory's L1 sibling.
func (u URI) Overview() URI { return u.Child(OverviewName) }

// NormalizeScope implements §4.6 step 2: coerce the empty scope to the
// session dimension root, and map legacy dimension aliases onto their
// canonical replacement. Unlike Parse, this never rejects unknown segments
// outright — only the dimension-alias lookup is special-cased, anything
// past that still goes through Parse.
func NormalizeScope(raw string) (URI, error) {
	if strings.TrimSpace(raw) == "" {
		return URI{Dimension: DimSession}, nil
	}
	trimmed := strings.TrimPrefix(raw, scheme)
	segs := strings.SplitN(trimmed, "/", 2)
	if canon, ok := legacyAliases[segs[0]]; ok {
		rest := ""
		if len(segs) > 1 {
			rest = "/" + segs[1]
		}
		return Parse(scheme + string(canon) + rest)
	}
	return Parse(raw)
}

// -- constructors for the common patterns named in §4.1 --

// UserPreferences builds cortex://user/<userID>/preferences[/<resource>].
func UserPreferences(userID string, resource ...string) URI {
	u := URI{Dimension: DimUser, Category: userID, Subcategory: "preferences"}
	if len(resource) > 0 {
		u.Resource = strings.Join(resource, "/")
	}
	return u
}

// UserMemories builds cortex://user/<userID>/memories[/<resource>].
func UserMemories(userID string, resource ...string) URI {
	u := URI{Dimension: DimUser, Category: userID, Subcategory: "memories"}
	if len(resource) > 0 {
		u.Resource = strings.Join(resource, "/")
	}
	return u
}

// AgentCases builds cortex://agent/<agentID>/cases[/<resource>].
func AgentCases(agentID string, resource ...string) URI {
	u := URI{Dimension: DimAgent, Category: agentID, Subcategory: "cases"}
	if len(resource) > 0 {
		u.Resource = strings.Join(resource, "/")
	}
	return u
}

// AgentLearnings builds cortex://agent/<agentID>/learnings[/<resource>].
func AgentLearnings(agentID string, resource ...string) URI {
	u := URI{Dimension: DimAgent, Category: agentID, Subcategory: "learnings"}
	if len(resource) > 0 {
		u.Resource = strings.Join(resource, "/")
	}
	return u
}

// AgentMemories builds cortex://agent/<agentID>/memories[/<resource>].
func AgentMemories(agentID string, resource ...string) URI {
	u := URI{Dimension: DimAgent, Category: agentID, Subcategory: "memories"}
	if len(resource) > 0 {
		u.Resource = strings.Join(resource, "/")
	}
	return u
}

// ShardedResource renders the "YYYY-MM/DD/HH_MM_SS_<shortid>.md" filename
// convention §3/§6 use for both session timeline messages and extracted
// memory files: a date-sharded path so no single directory accumulates an
// unbounded number of siblings.
func ShardedResource(t time.Time, shortID string) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%02d/%02d_%02d_%02d_%s.md",
		t.Format("2006-01"), t.Day(), t.Hour(), t.Minute(), t.Second(), shortID)
}

// SessionTimeline builds cortex://session/<thread>/timeline[/<resource>].
func SessionTimeline(thread string, resource ...string) URI {
	u := URI{Dimension: DimSession, Category: thread, Subcategory: "timeline"}
	if len(resource) > 0 {
		u.Resource = strings.Join(resource, "/")
	}
	return u
}

// ResourceFile builds cortex://resources/<category>[/<resource>].
func ResourceFile(category string, resource ...string) URI {
	u := URI{Dimension: DimResources, Category: category}
	if len(resource) > 0 {
		u.Resource = strings.Join(resource, "/")
	}
	return u
}
