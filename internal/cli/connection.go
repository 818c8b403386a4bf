package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/engine"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Platform   string
	User       string
	Link       string
	Agency     string
	Access     string
	Connection string
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Find or create the connection record for an authenticated user",
		Long: `Resolve the connection record of a client who authenticated with a platform
through an invitation link.

An existing record holding the user on that platform is reused. With
--connection the command continues an earlier visit and attaches the user
to that record instead.

Examples:
  grantlink resolve --platform meta --user 1789 --link link-L --agency agency-1 --access manage
  grantlink resolve --connection rec-1 --platform google --user 1045 --link link-L --agency agency-1 --access manage`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error {
				if opts.Connection != "" {
					if _, err := a.engine.Adopt(ctx, sess, opts.Connection); err != nil {
						return out.EngineError(err)
					}
				}
				rec, err := a.engine.Resolve(ctx, sess, engine.ResolveRequest{
					Platform:         access.Platform(opts.Platform),
					ExternalUserID:   opts.User,
					ConnectionLinkID: opts.Link,
					AgencyID:         opts.Agency,
					AccessType:       access.AccessType(opts.Access),
				})
				if err != nil {
					return out.EngineError(err)
				}
				return out.Success(recordView{rec})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Platform, "platform", "", "platform the user authenticated with (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "external user id on the platform (required)")
	cmd.Flags().StringVar(&opts.Link, "link", "", "connection link id (required)")
	cmd.Flags().StringVar(&opts.Agency, "agency", "", "agency id (required)")
	cmd.Flags().StringVar(&opts.Access, "access", "", "requested access type: view|manage (required)")
	cmd.Flags().StringVar(&opts.Connection, "connection", "", "connection record already held by the client")
	for _, name := range []string{"platform", "user", "link", "agency", "access"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// AttachOptions holds flags for the attach command.
type AttachOptions struct {
	*RootOptions
	Connection string
	Platform   string
	User       string
}

// NewAttachCommand creates the attach command.
func NewAttachCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a second platform identity to a connection record",
		Long: `Attach an identity for another platform to a connection record.

When a different record of the same link already holds that identity, the
two records are merged into the one given here. Records that disagree on
any other identity are never merged: the command fails with
CONFLICT_ON_MERGE and both records are kept.

Example:
  grantlink attach --connection rec-1 --platform google --user 1045`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error {
				if _, err := a.engine.Adopt(ctx, sess, opts.Connection); err != nil {
					return out.EngineError(err)
				}
				rec, err := a.engine.AttachSecondIdentity(ctx, sess, access.Platform(opts.Platform), opts.User)
				if err != nil {
					return out.EngineError(err)
				}
				return out.Success(recordView{rec})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Connection, "connection", "", "connection record id (required)")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "platform of the identity (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "external user id on the platform (required)")
	for _, name := range []string{"connection", "platform", "user"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <connection-id>",
		Short: "Show a connection record",
		Example: `  grantlink show rec-1
  grantlink show rec-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error {
				rec, err := a.engine.Adopt(ctx, sess, args[0])
				if err != nil {
					return out.EngineError(err)
				}
				return out.Success(recordView{rec})
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var link string

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the connection records of an invitation link",
		Example:       `  grantlink list --link link-L`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, _ *engine.Session, out *OutputFormatter) error {
				recs, err := a.store.ListConnections(ctx, link)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list connections", err)
				}
				if recs == nil {
					recs = []access.ConnectionResult{}
				}
				return out.Success(recordListView{Link: link, Records: recs})
			})
		},
	}

	cmd.Flags().StringVar(&link, "link", "", "connection link id (required)")
	_ = cmd.MarkFlagRequired("link")

	return cmd
}
