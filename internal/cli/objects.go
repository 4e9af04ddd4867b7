package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lobj/internal/chunk"
	"github.com/roach88/lobj/internal/host"
)

// StatusResult wraps a single object's status.
type StatusResult struct {
	Object string       `json:"object"`
	Status chunk.Status `json:"status"`
}

func (r StatusResult) String() string {
	return fmt.Sprintf("Object: %s\n%s", r.Object, r.Status)
}

// ObjectList is what status reports without an object argument.
type ObjectList struct {
	Objects []host.ObjectInfo `json:"objects"`
}

func (l ObjectList) String() string {
	if len(l.Objects) == 0 {
		return "No objects in flight."
	}
	var b strings.Builder
	for i, o := range l.Objects {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %-12s buffered=%d pending=%d", o.ID, o.Status.Mode, o.Status.BufferedBytes, o.Status.PendingChunks)
	}
	return b.String()
}

// MissingResult reports completeness for an expected chunk count.
type MissingResult struct {
	Object   string   `json:"object"`
	Expected uint32   `json:"expected"`
	Missing  []uint32 `json:"missing"`
	Complete bool     `json:"complete"`
}

func (r MissingResult) String() string {
	if r.Complete {
		return fmt.Sprintf("%s: all %d chunks present", r.Object, r.Expected)
	}
	return fmt.Sprintf("%s: missing %d of %d chunks: %v", r.Object, len(r.Missing), r.Expected, r.Missing)
}

// ConsolidateOutput reports a consolidation.
type ConsolidateOutput struct {
	Object string `json:"object"`
	host.ConsolidateResult
}

func (r ConsolidateOutput) String() string {
	s := fmt.Sprintf("%s: consolidated %d bytes", r.Object, r.Bytes)
	if len(r.Dropped) > 0 {
		s += fmt.Sprintf(" (dropped stray chunks %v)", r.Dropped)
	}
	return s
}

// FinalizeResult reports a finalize written to a file.
type FinalizeResult struct {
	Object    string `json:"object"`
	Bytes     int    `json:"bytes"`
	Out       string `json:"out"`
	Discarded bool   `json:"discarded"`
}

func (r FinalizeResult) String() string {
	return fmt.Sprintf("%s: wrote %d bytes to %s", r.Object, r.Bytes, r.Out)
}

// message is plain text output; JSON renders it as {"message": ...}.
type message struct {
	Message string `json:"message"`
}

func (m message) String() string { return m.Message }

func parseUint32(name, s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: must be a non-negative 32-bit integer", name, s))
	}
	return uint32(n), nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [object]",
		Short: "Show an object's upload state, or list objects",
		Long: `Show the live state of one object: upload mode, buffered bytes and
pending chunks. Without an argument, list every object in flight.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				if len(args) == 0 {
					objects, err := s.host.Objects(ctx, s.caller)
					if err != nil {
						return s.out.Fail("list failed", err)
					}
					return s.out.Success(ObjectList{Objects: objects})
				}
				st, err := s.host.Status(ctx, s.caller, args[0])
				if err != nil {
					return s.out.Fail("status failed", err)
				}
				return s.out.Success(StatusResult{Object: args[0], Status: st})
			})
		},
	}
}

// NewMissingCommand creates the missing command.
func NewMissingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "missing <object> <expected>",
		Short: "List chunk ordinals not yet received",
		Long: `List the ordinals in [0, expected) that have not been received, so the
sender can retransmit exactly those.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := parseUint32("expected", args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				missing, err := s.host.Missing(ctx, s.caller, args[0], expected)
				if err != nil {
					return s.out.Fail("missing failed", err)
				}
				return s.out.Success(MissingResult{
					Object:   args[0],
					Expected: expected,
					Missing:  missing,
					Complete: len(missing) == 0,
				})
			})
		},
	}
}

// NewConsolidateCommand creates the consolidate command.
func NewConsolidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate <object> <expected>",
		Short: "Assemble received chunks into the object buffer",
		Long: `Concatenate chunks 0..expected-1 in order into the object's buffer.
Fails with INCOMPLETE_UPLOAD, listing the missing ordinals, if any are absent.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := parseUint32("expected", args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				res, err := s.host.Consolidate(ctx, s.caller, args[0], expected)
				if err != nil {
					return s.out.Fail("consolidate failed", err)
				}
				return s.out.Success(ConsolidateOutput{Object: args[0], ConsolidateResult: res})
			})
		},
	}
}

// FinalizeOptions holds flags for the finalize command.
type FinalizeOptions struct {
	*RootOptions
	Out     string
	Discard bool
}

// NewFinalizeCommand creates the finalize command.
func NewFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FinalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "finalize <object>",
		Short: "Take the assembled bytes and clear the buffer",
		Long: `Return the object's buffered bytes and clear the buffer. The bytes go to
--out, or raw to stdout when --out is not given.

Examples:
  lobj finalize 0190... --out ./video.bin --discard
  lobj finalize 0190... > video.bin`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				data, err := s.host.Finalize(ctx, s.caller, args[0])
				if err != nil {
					return s.out.Fail("finalize failed", err)
				}
				if opts.Discard {
					if err := s.host.Discard(ctx, s.caller, args[0]); err != nil {
						return s.out.Fail("discard failed", err)
					}
				}
				if opts.Out == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(opts.Out, data, 0o644); err != nil {
					return WrapExitError(ExitCommandError, "failed to write output", err)
				}
				return s.out.Success(FinalizeResult{Object: args[0], Bytes: len(data), Out: opts.Out, Discarded: opts.Discard})
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write bytes to file instead of stdout")
	cmd.Flags().BoolVar(&opts.Discard, "discard", false, "discard the object after finalizing")

	return cmd
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <object> <ordinal>",
		Short:         "Drop one received chunk so it can be resent",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ordinal, err := parseUint32("ordinal", args[1])
			if err != nil {
				return err
			}
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				removed, err := s.host.RemoveChunk(ctx, s.caller, args[0], ordinal)
				if err != nil {
					return s.out.Fail("remove failed", err)
				}
				if !removed {
					return s.out.Success(message{fmt.Sprintf("%s: no chunk at ordinal %d", args[0], ordinal)})
				}
				return s.out.Success(message{fmt.Sprintf("%s: removed chunk %d", args[0], ordinal)})
			})
		},
	}
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reset <object>",
		Short:         "Clear an object's buffer and pending chunks",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				if err := s.host.Reset(ctx, s.caller, args[0]); err != nil {
					return s.out.Fail("reset failed", err)
				}
				return s.out.Success(message{fmt.Sprintf("%s: reset", args[0])})
			})
		},
	}
}

// NewDiscardCommand creates the discard command.
func NewDiscardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "discard <object>",
		Short:         "Forget an object entirely",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{}, func(ctx context.Context, s *session) error {
				if err := s.host.Discard(ctx, s.caller, args[0]); err != nil {
					return s.out.Fail("discard failed", err)
				}
				return s.out.Success(message{fmt.Sprintf("%s: discarded", args[0])})
			})
		},
	}
}

// NewReinitCommand creates the reinit command.
func NewReinitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reinit",
		Short: "Discard all saved upload state",
		Long: `Delete every saved object from the database without reading it. Use this
when a restore fails because the saved state is corrupt. Principals are kept.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, rootOpts, sessionOptions{skipRestore: true}, func(ctx context.Context, s *session) error {
				if err := s.host.Reinitialize(ctx); err != nil {
					return s.out.Fail("reinitialize failed", err)
				}
				return s.out.Success(message{"upload state discarded"})
			})
		},
	}
}
