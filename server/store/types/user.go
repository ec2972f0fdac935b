package types

// User (and admin) attribute names.
const (
	UserName    = "USER"
	UserPwdHash = "PWDHASH"
)

// UserSchema is the field table of bus users and server admins.
var UserSchema = Schema{
	{Name: UserName, Required: true, Check: checkNotEmpty},
	{Name: UserPwdHash, Required: true, Check: checkNotEmpty},
}

// User is a credential record. PwdHash is never the raw secret once stored.
type User struct {
	Name    string
	PwdHash string
}

// UserFromAttrs loads and validates a user record.
func UserFromAttrs(a Attrs) (*User, error) {
	if err := UserSchema.Validate(a); err != nil {
		return nil, err
	}
	return &User{Name: a[UserName], PwdHash: a[UserPwdHash]}, nil
}

// Attrs flattens the user into its stored form.
func (u *User) Attrs() Attrs {
	return Attrs{UserName: u.Name, UserPwdHash: u.PwdHash}
}
