package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newCpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cp <source>... <destination-folder>",
		Short: "Copy files, across protocols if needed",
		Long: `Copy one or more files into a destination folder. Source and
destination may live on different endpoints or different protocols; the
data is streamed through this machine when no server-side copy exists.

The copy can be reversed with 'unifs undo' within a few seconds.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runCp,
	}

	cmd.Flags().BoolP("force", "f", false, "overwrite existing destination files")

	return cmd
}

func newMvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <source>... <destination-folder>",
		Short: "Move files, across protocols if needed",
		Long: `Move one or more files into a destination folder. On a single
endpoint this is a server-side rename; across endpoints it is a copy
followed by deleting the source once the copy fully succeeded.

The move can be reversed with 'unifs undo' within a few seconds.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runMv,
	}

	cmd.Flags().BoolP("force", "f", false, "overwrite existing destination files")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete files (recoverable with undo)",
		Long: `Delete files or folders. Items are first moved into a hidden
trash folder next to their original location, so 'unifs undo' can bring
them back within a few seconds. Trash folders are cleaned up permanently
a few minutes later.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRm,
	}
}

func newUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Reverse the most recent copy, move, rename, or delete",
		Args:  cobra.NoArgs,
		RunE:  runUndo,
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a file or folder in place",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}
}

func runCp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sources, dest := args[:len(args)-1], args[len(args)-1]
	force, _ := cmd.Flags().GetBool("force")
	progress := newProgressPrinter("copying")

	err = e.Copy(ctx, sources, dest, force, progress)

	finishProgress(progress)

	if err != nil {
		return err
	}

	statusf("Copied %d file(s) to %s\n", len(sources), dest)

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sources, dest := args[:len(args)-1], args[len(args)-1]
	force, _ := cmd.Flags().GetBool("force")
	progress := newProgressPrinter("moving")

	err = e.Move(ctx, sources, dest, force, progress)

	finishProgress(progress)

	if err != nil {
		return err
	}

	statusf("Moved %d file(s) to %s\n", len(sources), dest)

	return nil
}

func runRm(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Delete(ctx, args); err != nil {
		return err
	}

	statusf("Deleted %d file(s). Run 'unifs undo' within %d seconds to restore.\n",
		len(args), resolvedCfg.Undo.WindowSeconds)

	return nil
}

func runRename(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Rename(ctx, args[0], args[1]); err != nil {
		return err
	}

	statusf("Renamed %s to %s\n", args[0], args[1])

	return nil
}

func runUndo(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	restored, err := e.Undo(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Restored %d file(s)\n", restored)

	return nil
}
