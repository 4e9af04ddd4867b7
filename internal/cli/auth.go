package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// PrincipalList is what auth list reports.
type PrincipalList struct {
	Principals []string `json:"principals"`
}

func (l PrincipalList) String() string {
	if len(l.Principals) == 0 {
		return "No principals."
	}
	return strings.Join(l.Principals, "\n")
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the principals allowed to call the host",
		Long: `Manage the allowlist guarding every host call. The caller must itself be
allowed. Changes are saved with the rest of the host state.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "add <principal>",
		Short:         "Allow a principal",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				if err := s.host.AddPrincipal(ctx, s.caller, args[0]); err != nil {
					return s.out.Fail("add principal failed", err)
				}
				return s.out.Success(message{fmt.Sprintf("added %s", args[0])})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "remove <principal>",
		Short:         "Revoke a principal",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				removed, err := s.host.RemovePrincipal(ctx, s.caller, args[0])
				if err != nil {
					return s.out.Fail("remove principal failed", err)
				}
				if !removed {
					return s.out.Success(message{fmt.Sprintf("%s was not allowed", args[0])})
				}
				return s.out.Success(message{fmt.Sprintf("removed %s", args[0])})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List allowed principals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				principals, err := s.host.Principals(ctx, s.caller)
				if err != nil {
					return s.out.Fail("list principals failed", err)
				}
				return s.out.Success(PrincipalList{Principals: principals})
			})
		},
	})

	return cmd
}
