package models

// AccessLevel controls who can see a document or wiki page beyond its
// owner. Public is a legacy value: link sharing is disabled
// deployment-wide, so rows carrying it are denied outright rather than
// migrated. Keeping the constant lets old rows round-trip without
// being silently rewritten.
type AccessLevel string

const (
	AccessPrivate AccessLevel = "private"
	AccessShared  AccessLevel = "shared"
	AccessPublic  AccessLevel = "public"
)

// Assignable reports whether the level may be set through the API.
func (a AccessLevel) Assignable() bool {
	return a == AccessPrivate || a == AccessShared
}

type ShareResourceKind string

const (
	ShareResourceDocument ShareResourceKind = "document"
	ShareResourcePage     ShareResourceKind = "page"
)

func (k ShareResourceKind) Valid() bool {
	return k == ShareResourceDocument || k == ShareResourcePage
}
