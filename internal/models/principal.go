package models

import "fmt"

// PrincipalKind tags which store a principal lives in.
type PrincipalKind string

const (
	PrincipalUser  PrincipalKind = "user"
	PrincipalAdmin PrincipalKind = "admin"
)

// Valid reports whether k is one of the known variants.
func (k PrincipalKind) Valid() bool {
	return k == PrincipalUser || k == PrincipalAdmin
}

// ParsePrincipalKind converts a wire tag into a PrincipalKind.
func ParsePrincipalKind(raw string) (PrincipalKind, error) {
	k := PrincipalKind(raw)
	if !k.Valid() {
		return "", fmt.Errorf("unknown principal kind %q", raw)
	}
	return k, nil
}

// PrincipalRef identifies exactly one user or exactly one admin. The fields are
// unexported so a reference can only be built through UserRef or AdminRef; the
// zero value binds nothing and is rejected wherever a binding is required.
type PrincipalRef struct {
	kind PrincipalKind
	id   string
}

// UserRef references a storefront customer.
func UserRef(id string) PrincipalRef {
	return PrincipalRef{kind: PrincipalUser, id: id}
}

// AdminRef references a back-office administrator.
func AdminRef(id string) PrincipalRef {
	return PrincipalRef{kind: PrincipalAdmin, id: id}
}

// NewPrincipalRef builds a reference from a kind tag and id.
func NewPrincipalRef(kind PrincipalKind, id string) (PrincipalRef, error) {
	if !kind.Valid() {
		return PrincipalRef{}, fmt.Errorf("unknown principal kind %q", kind)
	}
	if id == "" {
		return PrincipalRef{}, fmt.Errorf("empty %s id", kind)
	}
	return PrincipalRef{kind: kind, id: id}, nil
}

func (r PrincipalRef) Kind() PrincipalKind { return r.kind }
func (r PrincipalRef) ID() string          { return r.id }

// IsZero reports whether the reference binds no principal.
func (r PrincipalRef) IsZero() bool {
	return !r.kind.Valid() || r.id == ""
}

// UserID returns the id when r is a user reference.
func (r PrincipalRef) UserID() (string, bool) {
	if r.kind != PrincipalUser || r.id == "" {
		return "", false
	}
	return r.id, true
}

// AdminUserID returns the id when r is an admin reference.
func (r PrincipalRef) AdminUserID() (string, bool) {
	if r.kind != PrincipalAdmin || r.id == "" {
		return "", false
	}
	return r.id, true
}

func (r PrincipalRef) String() string {
	return string(r.kind) + ":" + r.id
}

// Principal is an authenticated identity with the fields embedded in access tokens.
type Principal struct {
	Ref   PrincipalRef
	Email string
}

// Claim builds the access claim describing p.
func (p Principal) Claim() AccessClaim {
	return AccessClaim{Principal: p.Ref, Email: p.Email}
}

// PrincipalCredentials pairs a principal with its stored password hash for login.
type PrincipalCredentials struct {
	Principal    Principal
	PasswordHash string
}
