package model

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var (
	// ErrNullField indicates a patch field that was present with a null value.
	ErrNullField = errors.New("field must not be null")
	// ErrIncompletePasswordChange indicates only one of old_password and
	// new_password was supplied.
	ErrIncompletePasswordChange = errors.New("old_password and new_password are both required")
)

// dottedDomain rejects addresses whose domain has no dot, which is.Email
// lets through.
func dottedDomain(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return errors.New("must be a valid email address")
	}
	domain := s[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return errors.New("must be a valid email address")
	}
	return nil
}

func emailRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(3, MaxEmailLength),
		is.Email,
		validation.By(dottedDomain),
	}
}

func fullNameRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.RuneLength(1, MaxFullNameLength),
	}
}

// CreateUserRequest is the signup payload. Role is not accepted.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Normalize canonicalizes the request in place.
func (r *CreateUserRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
}

// Validate runs the signup validation rules.
func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.FullName, fullNameRules()...),
	)
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks that both credentials are present.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// PatchKind identifies which update shape a patch resolved to.
type PatchKind int

// Patch kinds, lowest precedence first.
const (
	PatchNone PatchKind = iota
	PatchProfile
	PatchEmail
	PatchPassword
)

func (k PatchKind) String() string {
	switch k {
	case PatchProfile:
		return "profile"
	case PatchEmail:
		return "email"
	case PatchPassword:
		return "password"
	default:
		return "none"
	}
}

// PatchUserRequest is the body of PATCH /users/me. Every field records
// whether it was present.
type PatchUserRequest struct {
	FullName    Optional[string] `json:"full_name"`
	Email       Optional[string] `json:"email"`
	OldPassword Optional[string] `json:"old_password"`
	NewPassword Optional[string] `json:"new_password"`
}

// UserPatch is a resolved, validated update.
type UserPatch struct {
	Kind        PatchKind
	FullName    string
	Email       string
	OldPassword string
	NewPassword string
}

// Resolve selects exactly one update shape by precedence
// (password > email > profile) and validates it. Fields belonging to a
// lower-precedence shape are ignored once a higher one is chosen.
func (r PatchUserRequest) Resolve() (UserPatch, error) {
	for _, f := range []struct {
		name string
		null bool
	}{
		{"full_name", r.FullName.Null},
		{"email", r.Email.Null},
		{"old_password", r.OldPassword.Null},
		{"new_password", r.NewPassword.Null},
	} {
		if f.null {
			return UserPatch{}, validation.Errors{f.name: ErrNullField}
		}
	}

	switch {
	case r.OldPassword.Set || r.NewPassword.Set:
		if !r.OldPassword.Set || !r.NewPassword.Set {
			return UserPatch{}, ErrIncompletePasswordChange
		}
		p := UserPatch{
			Kind:        PatchPassword,
			OldPassword: r.OldPassword.Value,
			NewPassword: r.NewPassword.Value,
		}
		err := validation.ValidateStruct(&p,
			validation.Field(&p.OldPassword, validation.Required),
			validation.Field(&p.NewPassword, validation.Required),
		)
		return p, err

	case r.Email.Set:
		p := UserPatch{Kind: PatchEmail, Email: NormalizeEmail(r.Email.Value)}
		err := validation.ValidateStruct(&p, validation.Field(&p.Email, emailRules()...))
		return p, err

	case r.FullName.Set:
		p := UserPatch{Kind: PatchProfile, FullName: strings.TrimSpace(r.FullName.Value)}
		err := validation.ValidateStruct(&p, validation.Field(&p.FullName, fullNameRules()...))
		return p, err

	default:
		return UserPatch{Kind: PatchNone}, nil
	}
}
