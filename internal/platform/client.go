package platform

import (
	"context"
	"errors"

	"github.com/roach88/grantlink/internal/access"
)

var (
	// ErrUnauthorized is returned when the platform rejects the credentials.
	ErrUnauthorized = errors.New("platform rejected credentials")

	// ErrEntityNotFound is returned when the platform does not know the entity.
	ErrEntityNotFound = errors.New("entity not found on platform")
)

// Credentials authenticate calls on behalf of the client.
type Credentials struct {
	Token string
}

// Empty reports whether no credential is present.
func (c Credentials) Empty() bool {
	return c.Token == ""
}

// EntityUsersRequest asks who currently has access to an entity.
type EntityUsersRequest struct {
	Platform    access.Platform
	Service     string
	EntityID    string
	Credentials Credentials

	// AgencyFilter narrows the result to one identity when the platform
	// supports it. Callers must still match identities themselves.
	AgencyFilter string
}

// GrantRequest asks the platform to grant the agency identity access.
type GrantRequest struct {
	Platform        access.Platform
	Service         string
	EntityID        string
	AccessType      access.AccessType
	PermissionLevel string
	AgencyIdentity  string
	Credentials     Credentials
}

// Client is the subset of a platform API the engine consumes.
type Client interface {
	QueryEntityUsers(ctx context.Context, req EntityUsersRequest) ([]access.EntityUser, error)
	GrantAccess(ctx context.Context, req GrantRequest) error
}
