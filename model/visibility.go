package model

// Visibility determines who can see generated content and which library persists it.
type Visibility string

const (
	VisibilityPersonal Visibility = "personal"
	VisibilityShared   Visibility = "shared"
	VisibilityPublic   Visibility = "public"
)

// IsShared reports whether content is visible beyond its owner.
func (v Visibility) IsShared() bool {
	return v == VisibilityShared || v == VisibilityPublic
}

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPersonal, VisibilityShared, VisibilityPublic:
		return true
	}
	return false
}

// ParseVisibility returns the visibility named by s, defaulting to personal.
func ParseVisibility(s string) Visibility {
	v := Visibility(s)
	if v.Valid() {
		return v
	}
	return VisibilityPersonal
}
