// Package role holds the role-kind enumeration and the per-role profile
// entity shared by the registry, profile store, and lifecycle service.
package role

import "fmt"

// Kind is one of the fixed set of hats a user can wear. A user holds at most
// one active Kind at a time; the rest of the granted set stays dormant.
type Kind string

const (
	KindStudent    Kind = "student"
	KindTutor      Kind = "tutor"
	KindParent     Kind = "parent"
	KindAdvertiser Kind = "advertiser"
	KindMember     Kind = "member"

	// KindNone is the zero value: the user has no active role.
	KindNone Kind = ""
)

// Kinds lists every grantable role kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindStudent, KindTutor, KindParent, KindAdvertiser, KindMember}
}

// ParseKind validates s against the known role kinds.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindStudent, KindTutor, KindParent, KindAdvertiser, KindMember:
		return Kind(s), nil
	}
	return KindNone, fmt.Errorf("unknown role kind %q", s)
}

// Valid reports whether k is a grantable role kind. KindNone is not valid as
// a grant/switch target.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

func (k Kind) String() string { return string(k) }
