package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/code4manishk/tensorstore/kvstore"
)

var errPreconditionFailed = errors.New("precondition failed")

func newGetCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Read an object and write its payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, cleanup, err := a.openDriver(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			offset, _ := cmd.Flags().GetInt64("offset")
			length, _ := cmd.Flags().GetInt64("length")
			opts := kvstore.ReadOptions{}
			if offset > 0 || length > 0 {
				opts.ByteRange = kvstore.ByteRange{InclusiveMin: offset}
				if length > 0 {
					opts.ByteRange.ExclusiveMax = offset + length
				}
			}
			result, err := driver.Read(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if result.State != kvstore.ReadStateValue {
				return fmt.Errorf("get %s: not found", args[0])
			}
			if _, err := cmd.OutOrStdout().Write(result.Value); err != nil {
				return err
			}
			a.logger.Debug("s3kv.get.done",
				"key", args[0],
				"size", humanizeBytes(int64(len(result.Value))),
				"generation", string(result.Stamp.Generation),
			)
			return nil
		},
	}
	cmd.Flags().Int64("offset", 0, "read starting at this byte offset")
	cmd.Flags().Int64("length", 0, "read this many bytes; fails when the range extends past the object end")
	return cmd
}

func newPutCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put KEY [FILE]",
		Short: "Write an object from FILE or stdin and print its generation",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifEqual, err := generationFlag(cmd)
			if err != nil {
				return err
			}
			var value []byte
			if len(args) == 2 {
				value, err = os.ReadFile(args[1])
			} else {
				value, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			driver, cleanup, err := a.openDriver(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			stamp, err := driver.Write(cmd.Context(), args[0], value, kvstore.WriteOptions{IfEqual: ifEqual})
			if err != nil {
				return err
			}
			if stamp.Generation.IsUnknown() {
				return fmt.Errorf("put %s: %w", args[0], errPreconditionFailed)
			}
			a.logger.Debug("s3kv.put.done", "key", args[0], "size", humanizeBytes(int64(len(value))))
			fmt.Fprintln(cmd.OutOrStdout(), string(stamp.Generation))
			return nil
		},
	}
	cmd.Flags().Bool("if-not-exists", false, "fail when the object already exists")
	cmd.Flags().String("if-match", "", "require the current generation to equal this value")
	return cmd
}

func newRmCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm KEY",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifEqual, err := generationFlag(cmd)
			if err != nil {
				return err
			}
			driver, cleanup, err := a.openDriver(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			stamp, err := driver.Delete(cmd.Context(), args[0], kvstore.WriteOptions{IfEqual: ifEqual})
			if err != nil {
				return err
			}
			if stamp.Generation.IsUnknown() {
				return fmt.Errorf("rm %s: %w", args[0], errPreconditionFailed)
			}
			a.logger.Debug("s3kv.rm.done", "key", args[0])
			return nil
		},
	}
	cmd.Flags().Bool("if-not-exists", false, "fail when the object already exists")
	cmd.Flags().String("if-match", "", "require the current generation to equal this value")
	return cmd
}

func newLsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [PREFIX]",
		Short: "List keys, optionally restricted to a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, cleanup, err := a.openDriver(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			receiver := &printReceiver{w: cmd.OutOrStdout()}
			driver.List(cmd.Context(), kvstore.ListOptions{Range: kvstore.PrefixRange(prefix)}, receiver)
			return receiver.error()
		},
	}
}

func newRmRangeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rmrange PREFIX | rmrange MIN MAX",
		Short: "Delete every key with a prefix, or in the half-open range [MIN, MAX)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r kvstore.KeyRange
			if len(args) == 1 {
				r = kvstore.PrefixRange(args[0])
			} else {
				r = kvstore.KeyRange{InclusiveMin: args[0], ExclusiveMax: args[1]}
			}
			driver, cleanup, err := a.openDriver(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			if err := driver.DeleteRange(cmd.Context(), r); err != nil {
				return err
			}
			a.logger.Debug("s3kv.rmrange.done", "min", r.InclusiveMin, "max", r.ExclusiveMax)
			return nil
		},
	}
}

// printReceiver streams listed keys to a writer, one per line.
type printReceiver struct {
	w io.Writer

	mu  sync.Mutex
	err error
}

func (r *printReceiver) SetStarting(cancel func()) {}

func (r *printReceiver) SetValue(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintln(r.w, key)
}

func (r *printReceiver) SetDone() {}

func (r *printReceiver) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *printReceiver) SetStopping() {}

func (r *printReceiver) error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
