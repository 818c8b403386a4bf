package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/engine"
)

// VerifyOptions holds flags for the verify and request-grant commands.
type VerifyOptions struct {
	*RootOptions
	Connection string
	Service    string
	Entity     string
	Access     string
	Identity   string
}

func (opts *VerifyOptions) bindCheck(cmd *cobra.Command) {
	cmd.Flags().StringVar(&opts.Service, "service", "", "service name, e.g. searchConsole (required)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity id (required)")
	cmd.Flags().StringVar(&opts.Access, "access", "", "access type the agency asked for: view|manage (required)")
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "agency email or identifier (required)")
	for _, name := range []string{"service", "entity", "access", "identity"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the agency holds the expected access on an entity",
		Long: `Run one verification check: ask the platform who has access to the
entity, find the agency identity and compare its permission level with the
level the access type requires.

A granted or incorrect_access result is recorded on the connection record.
The platform credential is read from GRANTLINK_<PLATFORM>_TOKEN.

Exit codes:
  0 - Access granted
  1 - Access missing or at the wrong level, or the check failed
  2 - Command error (invalid flags, unknown record)

Example:
  grantlink verify --connection rec-1 --service searchConsole --entity example.com \
    --access manage --identity ops@agency.test`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error {
				if _, err := a.engine.Adopt(ctx, sess, opts.Connection); err != nil {
					return out.EngineError(err)
				}
				outcome, err := a.engine.Verify(ctx, sess, engine.VerifyRequest{
					Service:    opts.Service,
					EntityID:   opts.Entity,
					AccessType: access.AccessType(opts.Access),
					Identity:   opts.Identity,
				})
				if err != nil {
					return out.EngineError(err)
				}
				if err := out.Success(newOutcomeView(outcome)); err != nil {
					return err
				}
				if outcome.State != access.StateGranted {
					return NewExitError(ExitFailure, fmt.Sprintf("verification finished with state %s", outcome.State))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Connection, "connection", "", "connection record id (required)")
	_ = cmd.MarkFlagRequired("connection")
	opts.bindCheck(cmd)

	return cmd
}

// grantRequested is printed after a successful grant call.
type grantRequested struct {
	Service  string `json:"service"`
	EntityID string `json:"entity_id"`
	Access   string `json:"access_type"`
	Identity string `json:"identity"`
}

func (g grantRequested) String() string {
	return fmt.Sprintf("✓ Requested %s access to %s %s for %s. Run verify to confirm it.",
		g.Access, g.Service, g.EntityID, g.Identity)
}

// NewRequestGrantCommand creates the request-grant command.
func NewRequestGrantCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "request-grant",
		Short: "Ask a platform to grant the agency access to an entity",
		Long: `Call the platform grant API with the configured credential. No
connection record is changed; run verify afterwards to record the result.

Example:
  grantlink request-grant --service tagManager --entity ctr-1 --access view --identity ops@agency.test`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error {
				err := a.engine.RequestGrant(ctx, sess, engine.GrantRequest{
					Service:    opts.Service,
					EntityID:   opts.Entity,
					AccessType: access.AccessType(opts.Access),
					Identity:   opts.Identity,
				})
				if err != nil {
					return out.EngineError(err)
				}
				return out.Success(grantRequested{
					Service:  opts.Service,
					EntityID: opts.Entity,
					Access:   opts.Access,
					Identity: opts.Identity,
				})
			})
		},
	}

	opts.bindCheck(cmd)
	return cmd
}
