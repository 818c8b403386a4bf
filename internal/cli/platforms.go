package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/platform"
)

// serviceView describes one service in the platforms listing.
type serviceView struct {
	Platform      access.Platform `json:"platform"`
	Service       string          `json:"service"`
	IdentityField string          `json:"identity_field"`
	Levels        []string        `json:"levels,omitempty"`
	ViewLevel     string          `json:"view_level,omitempty"`
	ManageLevel   string          `json:"manage_level,omitempty"`
}

type platformsView struct {
	Source   string        `json:"source"`
	Services []serviceView `json:"services"`
}

func newPlatformsView(source string, r *platform.Registry) platformsView {
	v := platformsView{Source: source, Services: []serviceView{}}
	for _, svc := range r.Services() {
		sv := serviceView{
			Platform:      svc.Platform,
			Service:       svc.Name,
			IdentityField: string(svc.IdentityField),
			ViewLevel:     svc.Comparator.Compare(access.AccessView, nil).Expected,
			ManageLevel:   svc.Comparator.Compare(access.AccessManage, nil).Expected,
		}
		if g, ok := svc.Comparator.(*platform.GradedComparator); ok {
			sv.Levels = g.Levels()
		}
		v.Services = append(v.Services, sv)
	}
	return v
}

func (v platformsView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Platform descriptors (%s):\n", v.Source)
	for _, s := range v.Services {
		fmt.Fprintf(w, "  %-8s %-14s %s", s.Platform, s.Service, s.IdentityField)
		if len(s.Levels) == 0 {
			fmt.Fprintln(w, "  binary")
			continue
		}
		fmt.Fprintf(w, "  levels=%s view=%s manage=%s\n", strings.Join(s.Levels, ","), s.ViewLevel, s.ManageLevel)
	}
}

// NewPlatformsCommand creates the platforms command.
func NewPlatformsCommand(rootOpts *RootOptions) *cobra.Command {
	var validate string

	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List platform descriptors or validate a descriptor file",
		Long: `List the services of every platform with their identity field and
permission levels.

With --validate the given descriptor file is checked against the
descriptor schema instead.

Examples:
  grantlink platforms
  grantlink platforms --validate ./platforms.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)

			if validate != "" {
				r, err := platform.LoadFile(validate)
				if err != nil {
					if outErr := out.Error("E_INVALID_DESCRIPTORS", err.Error(), nil); outErr != nil {
						return outErr
					}
					return WrapExitError(ExitFailure, "descriptor validation failed", err)
				}
				return out.Success(newPlatformsView(validate, r))
			}

			source, err := registryPath(rootOpts)
			if err != nil {
				return err
			}
			r, err := loadRegistry(rootOpts)
			if err != nil {
				return err
			}
			if source == "" {
				source = "built-in"
			}
			return out.Success(newPlatformsView(source, r))
		},
	}

	cmd.Flags().StringVar(&validate, "validate", "", "descriptor file to validate")

	return cmd
}
