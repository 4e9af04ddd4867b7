package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lobj/internal/chunk"
	"github.com/roach88/lobj/internal/host"
	"github.com/roach88/lobj/internal/remote"
)

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	Object      string // resume an existing object instead of beginning one
	Parallel    bool
	ChunkSize   int // overrides config chunk_size
	Parallelism int // overrides config parallelism
	NoFinalize  bool

	// IDs overrides object ID generation (for testing).
	IDs host.IDGenerator
}

// UploadResult is what upload reports.
type UploadResult struct {
	Object  string   `json:"object"`
	Mode    string   `json:"mode"`
	Chunks  int      `json:"chunks"`
	Bytes   int      `json:"bytes"`
	Dropped []uint32 `json:"dropped,omitempty"`
}

func (r UploadResult) String() string {
	return fmt.Sprintf("Uploaded %s: %d bytes in %d %s chunk(s)", r.Object, r.Bytes, r.Chunks, r.Mode)
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file as a large object",
		Long: `Split a file into chunks and upload it to the host.

Sequential uploads append chunks in order. Parallel uploads send chunks
concurrently with explicit ordinals and consolidate them at the end.
Each chunk call is retried according to the retry configuration.
Use "-" to read from stdin.

Examples:
  lobj upload ./video.bin
  lobj upload ./video.bin --parallel --chunk-size 262144
  lobj upload ./rest.bin --object 0190... --parallel`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Object, "object", "", "existing object ID to upload into")
	cmd.Flags().BoolVarP(&opts.Parallel, "parallel", "p", false, "send ordinal chunks concurrently")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", 0, "bytes per chunk (overrides config)")
	cmd.Flags().IntVar(&opts.Parallelism, "parallelism", 0, "concurrent chunk calls (overrides config)")
	cmd.Flags().BoolVar(&opts.NoFinalize, "no-consolidate", false, "leave parallel chunks pending")

	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func runUpload(cmd *cobra.Command, opts *UploadOptions, path string) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	return withSession(cmd, opts.RootOptions, sessionOptions{ids: opts.IDs}, func(ctx context.Context, s *session) error {
		chunkSize := s.cfg.ChunkSize
		if opts.ChunkSize > 0 {
			chunkSize = opts.ChunkSize
		}
		parallelism := s.cfg.Parallelism
		if opts.Parallelism > 0 {
			parallelism = opts.Parallelism
		}
		policy := s.cfg.RetryPolicy()
		policy.Retryable = retryable

		id := opts.Object
		if id == "" {
			id, err = s.host.Begin(ctx, s.caller)
			if err != nil {
				return s.out.Fail("begin failed", err)
			}
		}

		chunks := slices.Collect(slices.Chunk(data, chunkSize))
		res := UploadResult{Object: id, Chunks: len(chunks), Bytes: len(data)}
		s.out.VerboseLog("uploading %d bytes to %s in %d chunk(s) of up to %d bytes", len(data), id, len(chunks), chunkSize)

		if !opts.Parallel {
			res.Mode = chunk.ModeSequential.String()
			for i, c := range chunks {
				err := remote.Do(ctx, policy, host.OpAppendChunk, func(ctx context.Context) error {
					return s.host.AppendChunk(ctx, s.caller, id, c)
				})
				if err != nil {
					return s.out.Fail(fmt.Sprintf("chunk %d failed", i), err)
				}
			}
			return s.out.Success(res)
		}

		res.Mode = chunk.ModeParallel.String()
		if err := sendParallel(ctx, s, policy, id, chunks, parallelism); err != nil {
			return s.out.Fail("parallel upload failed", err)
		}
		s.out.VerboseLog("sent %d chunk(s) with parallelism %d", len(chunks), parallelism)
		if opts.NoFinalize {
			return s.out.Success(res)
		}

		cr, err := s.host.Consolidate(ctx, s.caller, id, uint32(len(chunks)))
		if err != nil {
			return s.out.Fail("consolidate failed", err)
		}
		res.Bytes = cr.Bytes
		res.Dropped = cr.Dropped
		return s.out.Success(res)
	})
}

// sendParallel submits every chunk with its ordinal, at most limit at a time.
func sendParallel(ctx context.Context, s *session, policy remote.Policy, id string, chunks [][]byte, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range chunks {
		ordinal := uint32(i)
		g.Go(func() error {
			return remote.Do(gctx, policy, host.OpAppendParallelChunk, func(ctx context.Context) error {
				return s.host.AppendParallelChunk(ctx, s.caller, id, ordinal, c)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Debug("parallel chunks sent", "object", id, "chunks", len(chunks), "limit", limit)
	return nil
}

// retryable retries errors that carry no host code, such as attempt timeouts.
func retryable(err error) bool {
	return host.ErrorCode(err) == ""
}
