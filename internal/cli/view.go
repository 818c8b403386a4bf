package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/engine"
)

// recordView is a connection record as commands print it.
type recordView struct {
	access.ConnectionResult
}

func (v recordView) RenderText(w io.Writer) {
	r := v.ConnectionResult
	fmt.Fprintf(w, "Connection %s (version %d)\n", r.ID, r.Version)
	fmt.Fprintf(w, "  link:    %s\n", r.ConnectionLinkID)
	fmt.Fprintf(w, "  agency:  %s\n", r.AgencyID)
	fmt.Fprintf(w, "  access:  %s\n", r.AccessType)
	if fp, err := access.Fingerprint(r); err == nil {
		fmt.Fprintf(w, "  fingerprint: %s\n", fp)
	}

	fmt.Fprintln(w, "  identities:")
	platforms := r.Platforms()
	if len(platforms) == 0 {
		fmt.Fprintln(w, "    (none)")
	}
	for _, p := range platforms {
		fmt.Fprintf(w, "    %-8s %s\n", p, r.PlatformUserIDs[p])
	}

	fmt.Fprintln(w, "  granted accesses:")
	keys := make([]string, 0, len(r.GrantedAccesses))
	n := 0
	for p, list := range r.GrantedAccesses {
		keys = append(keys, string(p))
		n += len(list)
	}
	if n == 0 {
		fmt.Fprintln(w, "    (none)")
		return
	}
	sort.Strings(keys)
	for _, p := range keys {
		for _, g := range r.GrantedAccesses[access.Platform(p)] {
			mark := "✓"
			if !g.Success {
				mark = "✗"
			}
			fmt.Fprintf(w, "    %s %-8s %s %s %s", mark, p, g.Service, g.EntityID, g.AccessType)
			if id := g.Identity(); id != "" {
				fmt.Fprintf(w, " identity=%s", id)
			}
			if g.PermissionLevel != "" {
				fmt.Fprintf(w, " level=%s", g.PermissionLevel)
			}
			fmt.Fprintln(w)
		}
	}
}

// recordListView is the records of one link.
type recordListView struct {
	Link    string                    `json:"connection_link_id"`
	Records []access.ConnectionResult `json:"records"`
}

func (v recordListView) RenderText(w io.Writer) {
	if len(v.Records) == 0 {
		fmt.Fprintf(w, "No connections for link %s.\n", v.Link)
		return
	}
	for i, r := range v.Records {
		if i > 0 {
			fmt.Fprintln(w)
		}
		recordView{r}.RenderText(w)
	}
}

// outcomeView is one verification check as commands print it.
type outcomeView struct {
	State         access.VerificationState `json:"state"`
	Platform      access.Platform          `json:"platform"`
	Service       string                   `json:"service"`
	EntityID      string                   `json:"entity_id"`
	Identity      string                   `json:"identity"`
	ExpectedLevel string                   `json:"expected_level,omitempty"`
	ActualLevel   string                   `json:"actual_level,omitempty"`
	Cycle         int64                    `json:"cycle"`
	RecordID      string                   `json:"record_id,omitempty"`
	Message       string                   `json:"message"`
}

func newOutcomeView(out engine.Outcome) outcomeView {
	v := outcomeView{
		State:         out.State,
		Platform:      out.Platform,
		Service:       out.Service,
		EntityID:      out.EntityID,
		Identity:      out.Identity,
		ExpectedLevel: out.ExpectedLevel,
		ActualLevel:   out.ActualLevel,
		Cycle:         out.Cycle,
		Message:       out.Message,
	}
	if out.Record != nil {
		v.RecordID = out.Record.ID
	}
	return v
}

func (v outcomeView) RenderText(w io.Writer) {
	mark := "✗"
	if v.State == access.StateGranted {
		mark = "✓"
	}
	fmt.Fprintf(w, "%s %s %s %s: %s\n", mark, v.Platform, v.Service, v.EntityID, v.State)
	if v.ExpectedLevel != "" {
		actual := v.ActualLevel
		if actual == "" {
			actual = "-"
		}
		fmt.Fprintf(w, "  expected level: %s, actual level: %s\n", v.ExpectedLevel, actual)
	}
	if v.Message != "" {
		fmt.Fprintf(w, "  %s\n", v.Message)
	}
}
