package enums

import "fmt"

// ActorRole is the role carried in an access token.
type ActorRole string

const (
	ActorRoleShop     ActorRole = "shop"
	ActorRoleOperator ActorRole = "operator"
	ActorRoleDriver   ActorRole = "driver"
)

var validActorRoles = []ActorRole{
	ActorRoleShop,
	ActorRoleOperator,
	ActorRoleDriver,
}

func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
