package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/grantlink/internal/access"
	"github.com/roach88/grantlink/internal/engine"
)

// AccessOptions holds flags shared by the access subcommands.
type AccessOptions struct {
	*RootOptions
	Connection string
	Platform   string
	Service    string
	Entity     string
	Access     string
	Success    bool
	Identity   string
}

// NewAccessCommand creates the access command group.
func NewAccessCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Edit the granted accesses of a connection record",
	}
	cmd.AddCommand(newAccessUpsertCommand(&AccessOptions{RootOptions: rootOpts}))
	cmd.AddCommand(newAccessRemoveCommand(&AccessOptions{RootOptions: rootOpts}))
	return cmd
}

func (opts *AccessOptions) bindTarget(cmd *cobra.Command) {
	cmd.Flags().StringVar(&opts.Connection, "connection", "", "connection record id (required)")
	cmd.Flags().StringVar(&opts.Platform, "platform", "", "platform of the service (required)")
	cmd.Flags().StringVar(&opts.Service, "service", "", "service name, e.g. adAccount (required)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity id (required)")
	for _, name := range []string{"connection", "platform", "service", "entity"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func newAccessUpsertCommand(opts *AccessOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Add or replace the granted access of one entity",
		Long: `Add or replace the granted access of one (service, entity) pair.

An entry for the same pair is replaced in place, so the order of the
list is kept.

Example:
  grantlink access upsert --connection rec-1 --platform meta --service adAccount \
    --entity act-1 --access manage --identity 1234567890`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error {
				entry := access.GrantedAccess{
					Service:    opts.Service,
					EntityID:   opts.Entity,
					AccessType: access.AccessType(opts.Access),
					Success:    opts.Success,
				}
				if svc, ok := a.registry.Service(opts.Service); ok && opts.Identity != "" {
					svc.IdentityField.Apply(&entry, opts.Identity)
				}

				if _, err := a.engine.Adopt(ctx, sess, opts.Connection); err != nil {
					return out.EngineError(err)
				}
				rec, err := a.engine.UpsertGrantedAccess(ctx, sess, access.Platform(opts.Platform), entry)
				if err != nil {
					return out.EngineError(err)
				}
				return out.Success(recordView{rec})
			})
		},
	}

	opts.bindTarget(cmd)
	cmd.Flags().StringVar(&opts.Access, "access", "", "granted access type: view|manage (required)")
	cmd.Flags().BoolVar(&opts.Success, "success", true, "whether the grant succeeded")
	cmd.Flags().StringVar(&opts.Identity, "identity", "", "agency email or identifier the access was granted to")
	_ = cmd.MarkFlagRequired("access")

	return cmd
}

func newAccessRemoveCommand(opts *AccessOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the granted access of one entity",
		Long: `Remove the granted access of one (service, entity) pair. Removing an
entry that does not exist is not an error.

Example:
  grantlink access remove --connection rec-1 --platform meta --service adAccount --entity act-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, sess *engine.Session, out *OutputFormatter) error {
				if _, err := a.engine.Adopt(ctx, sess, opts.Connection); err != nil {
					return out.EngineError(err)
				}
				rec, err := a.engine.RemoveGrantedAccess(ctx, sess, access.Platform(opts.Platform), opts.Service, opts.Entity)
				if err != nil {
					return out.EngineError(err)
				}
				return out.Success(recordView{rec})
			})
		},
	}

	opts.bindTarget(cmd)
	return cmd
}
