package domain

import "time"

// AccountRole enumerates internal account roles.
type AccountRole string

const (
	AccountRoleUser        AccountRole = "USER"
	AccountRoleAgent       AccountRole = "AGENT"
	AccountRoleAdmin       AccountRole = "ADMIN"
	AccountRoleJefe        AccountRole = "JEFE"
	AccountRoleSubdirector AccountRole = "SUBDIRECTOR"
)

// Account is an internal, registered user that identities can be linked to.
type Account struct {
	ID           string
	Name         string
	Email        string
	NationalID   string
	Phone        *string
	PasswordHash string
	Role         AccountRole
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPhone reports whether the account is registered with the given address.
func (a *Account) HasPhone(address string) bool {
	return a.Phone != nil && *a.Phone == address
}
