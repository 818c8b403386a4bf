package access

import "fmt"

// Platform names an external platform, e.g. "meta" or "google".
type Platform string

// AccessType is the level of access a client agreed to grant.
type AccessType string

const (
	AccessView   AccessType = "view"
	AccessManage AccessType = "manage"
)

// ParseAccessType validates s as an access type.
func ParseAccessType(s string) (AccessType, error) {
	switch AccessType(s) {
	case AccessView, AccessManage:
		return AccessType(s), nil
	default:
		return "", fmt.Errorf("invalid access type %q: must be %q or %q", s, AccessView, AccessManage)
	}
}

// Valid reports whether t is a known access type.
func (t AccessType) Valid() bool {
	return t == AccessView || t == AccessManage
}

// GrantedAccess records the outcome of a grant for one (service, entity) pair.
type GrantedAccess struct {
	Service          string     `json:"service"`
	EntityID         string     `json:"entity_id"`
	AccessType       AccessType `json:"access_type"`
	Success          bool       `json:"success"`
	AgencyEmail      string     `json:"agency_email,omitempty"`
	AgencyIdentifier string     `json:"agency_identifier,omitempty"`

	// PermissionLevel is the platform-specific level observed by verification.
	PermissionLevel string `json:"permission_level,omitempty"`
}

// Key returns the dedup key of the entry.
func (g GrantedAccess) Key() string {
	return Key(g.Service, g.EntityID)
}

// Identity returns whichever agency identity is set.
func (g GrantedAccess) Identity() string {
	if g.AgencyEmail != "" {
		return g.AgencyEmail
	}
	return g.AgencyIdentifier
}

// ConnectionResult is the per-connection record of identities and grants.
type ConnectionResult struct {
	ID               string `json:"id"`
	AgencyID         string `json:"agency_id"`
	ConnectionLinkID string `json:"connection_link_id"`

	// PlatformUserIDs holds one external user id slot per platform.
	PlatformUserIDs map[Platform]string `json:"platform_user_ids"`

	AccessType      AccessType                   `json:"access_type"`
	GrantedAccesses map[Platform][]GrantedAccess `json:"granted_accesses"`

	// Version increments on every persisted update.
	Version int64 `json:"version"`
}

// NewConnectionResult returns a record with an empty access list for every
// given platform.
func NewConnectionResult(id, agencyID, linkID string, accessType AccessType, platforms []Platform) ConnectionResult {
	r := ConnectionResult{
		ID:               id,
		AgencyID:         agencyID,
		ConnectionLinkID: linkID,
		PlatformUserIDs:  map[Platform]string{},
		AccessType:       accessType,
		GrantedAccesses:  make(map[Platform][]GrantedAccess, len(platforms)),
	}
	for _, p := range platforms {
		r.GrantedAccesses[p] = []GrantedAccess{}
	}
	return r
}

// UserID returns the external user id attached for platform p.
func (r ConnectionResult) UserID(p Platform) (string, bool) {
	id, ok := r.PlatformUserIDs[p]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// SetUserID attaches an external user id to platform p.
func (r *ConnectionResult) SetUserID(p Platform, userID string) {
	if r.PlatformUserIDs == nil {
		r.PlatformUserIDs = map[Platform]string{}
	}
	r.PlatformUserIDs[p] = userID
}

// Platforms returns the platforms with an attached identity, sorted.
func (r ConnectionResult) Platforms() []Platform {
	out := make([]Platform, 0, len(r.PlatformUserIDs))
	for p, id := range r.PlatformUserIDs {
		if id != "" {
			out = append(out, p)
		}
	}
	sortPlatforms(out)
	return out
}

// Clone returns a deep copy.
func (r ConnectionResult) Clone() ConnectionResult {
	out := r
	out.PlatformUserIDs = make(map[Platform]string, len(r.PlatformUserIDs))
	for p, id := range r.PlatformUserIDs {
		out.PlatformUserIDs[p] = id
	}
	out.GrantedAccesses = make(map[Platform][]GrantedAccess, len(r.GrantedAccesses))
	for p, list := range r.GrantedAccesses {
		cp := make([]GrantedAccess, len(list))
		copy(cp, list)
		out.GrantedAccesses[p] = cp
	}
	return out
}

// EntityUser is one row of an entity users snapshot returned by a platform.
type EntityUser struct {
	Identity         string   `json:"identity"`
	PermissionLevels []string `json:"permission_levels"`
}

// VerificationState is the state of one verification check cycle.
type VerificationState string

const (
	StatePending         VerificationState = "pending"
	StateGranted         VerificationState = "granted"
	StateNotGranted      VerificationState = "not_granted"
	StateIncorrectAccess VerificationState = "incorrect_access"
)

// Terminal reports whether s ends a check cycle.
func (s VerificationState) Terminal() bool {
	return s == StateGranted || s == StateNotGranted || s == StateIncorrectAccess
}
