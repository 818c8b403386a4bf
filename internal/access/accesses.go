package access

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key builds the dedup key for a (service, entity id) pair.
func Key(service, entityID string) string {
	return normalize(service) + "\x00" + normalize(entityID)
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// FindAccess returns the entry for (service, entityID) on platform p.
func (r ConnectionResult) FindAccess(p Platform, service, entityID string) (GrantedAccess, bool) {
	key := Key(service, entityID)
	for _, g := range r.GrantedAccesses[p] {
		if g.Key() == key {
			return g, true
		}
	}
	return GrantedAccess{}, false
}

// UpsertAccess replaces the entry with the same key in place, or appends it.
func (r *ConnectionResult) UpsertAccess(p Platform, entry GrantedAccess) {
	if r.GrantedAccesses == nil {
		r.GrantedAccesses = map[Platform][]GrantedAccess{}
	}
	list := r.GrantedAccesses[p]
	key := entry.Key()
	for i := range list {
		if list[i].Key() == key {
			list[i] = entry
			r.GrantedAccesses[p] = list
			return
		}
	}
	r.GrantedAccesses[p] = append(list, entry)
}

// RemoveAccess filters out the entry for (service, entityID). It reports
// whether anything was removed.
func (r *ConnectionResult) RemoveAccess(p Platform, service, entityID string) bool {
	list, ok := r.GrantedAccesses[p]
	if !ok {
		return false
	}
	key := Key(service, entityID)
	kept := make([]GrantedAccess, 0, len(list))
	for _, g := range list {
		if g.Key() != key {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(list) {
		return false
	}
	r.GrantedAccesses[p] = kept
	return true
}

// AbsorbAccesses upserts every entry of other into r, platform by platform.
// Incoming entries win on key collision.
func (r *ConnectionResult) AbsorbAccesses(other ConnectionResult) {
	platforms := make([]Platform, 0, len(other.GrantedAccesses))
	for p := range other.GrantedAccesses {
		platforms = append(platforms, p)
	}
	sortPlatforms(platforms)
	for _, p := range platforms {
		if _, ok := r.GrantedAccesses[p]; !ok {
			if r.GrantedAccesses == nil {
				r.GrantedAccesses = map[Platform][]GrantedAccess{}
			}
			r.GrantedAccesses[p] = []GrantedAccess{}
		}
		for _, g := range other.GrantedAccesses[p] {
			r.UpsertAccess(p, g)
		}
	}
}

func sortPlatforms(ps []Platform) {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
}
