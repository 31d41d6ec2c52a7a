package services

import "github.com/otpgate/apiserver/types"

// Policy decides whether a caller holding role caller may use an operation
// that requires role required.
type Policy func(required, caller types.Role) bool

var roleRank = map[types.Role]int{
	types.RoleUser:  1,
	types.RoleAdmin: 2,
}

// DefaultPolicy allows callers whose role ranks at least as high as the
// required one. Unknown roles are never allowed.
func DefaultPolicy(required, caller types.Role) bool {
	need, ok := roleRank[required]
	if !ok {
		return false
	}
	have, ok := roleRank[caller]
	if !ok {
		return false
	}
	return have >= need
}
