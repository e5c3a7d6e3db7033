package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkuusisto/unifs/internal/client"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "List files and folders",
		Long: `List the entries under a path on any configured endpoint.

Paths are scheme-qualified: smb://host/share/dir, sftp://host/dir,
ftp://host/dir, cloud://account/dir, or a plain local path.`,
		Args: cobra.ExactArgs(1),
		RunE: runLs,
	}

	cmd.Flags().BoolP("long", "l", false, "show size and modification time")

	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Stream a file's content to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runCat,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}

	cmd.Flags().BoolP("force", "f", false, "overwrite an existing local file")

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path> <remote-path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runPut,
	}

	cmd.Flags().BoolP("force", "f", false, "overwrite an existing remote file")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (recursive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

// lsEntry is the JSON schema for `ls --json`.
type lsEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	Dir      bool   `json:"dir"`
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.List(ctx, args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printEntriesJSON(entries)
	}

	long, _ := cmd.Flags().GetBool("long")
	printEntriesText(entries, long)

	return nil
}

func printEntriesJSON(entries []client.FileInfo) error {
	out := make([]lsEntry, 0, len(entries))

	for _, fi := range entries {
		out = append(out, lsEntry{
			Name:     fi.Name,
			Path:     fi.Path,
			Size:     fi.Size,
			Modified: fi.ModTime.Format("2006-01-02T15:04:05Z07:00"),
			Dir:      fi.IsDir,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printEntriesText(entries []client.FileInfo, long bool) {
	if !long {
		for _, fi := range entries {
			name := fi.Name
			if fi.IsDir {
				name += "/"
			}

			fmt.Println(name)
		}

		return
	}

	rows := make([][]string, 0, len(entries))

	for _, fi := range entries {
		size := formatSize(fi.Size)
		if fi.IsDir {
			size = "-"
		}

		rows = append(rows, []string{size, formatTime(fi.ModTime), fi.Name})
	}

	printTable(os.Stdout, []string{"SIZE", "MODIFIED", "NAME"}, rows)
}

func runStat(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	fi, err := e.Stat(ctx, args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(lsEntry{
			Name:     fi.Name,
			Path:     fi.Path,
			Size:     fi.Size,
			Modified: fi.ModTime.Format("2006-01-02T15:04:05Z07:00"),
			Dir:      fi.IsDir,
		})
	}

	kind := "file"
	if fi.IsDir {
		kind = "folder"
	}

	fmt.Printf("Name:     %s\n", fi.Name)
	fmt.Printf("Type:     %s\n", kind)
	fmt.Printf("Size:     %s\n", formatSize(fi.Size))
	fmt.Printf("Modified: %s\n", fi.ModTime.Format("2006-01-02 15:04:05"))

	return nil
}

func runCat(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	_, err = e.Download(ctx, args[0], os.Stdout, nil)

	return err
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	remote := args[0]

	local := filepath.Base(strings.TrimRight(remote, "/"))
	if len(args) == 2 {
		local = args[1]
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		if _, statErr := os.Stat(local); statErr == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", local)
		}
	}

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("creating %s: %w", local, err)
	}

	progress := newProgressPrinter("downloading")

	n, err := e.Download(ctx, remote, f, progress)

	finishProgress(progress)

	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(local)

		return err
	}

	statusf("Downloaded %s (%s)\n", local, formatSize(n))

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	local, remote := args[0], args[1]

	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("opening %s: %w", local, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading %s: %w", local, err)
	}

	force, _ := cmd.Flags().GetBool("force")
	progress := newProgressPrinter("uploading")

	err = e.Upload(ctx, remote, f, fi.Size(), force, progress)

	finishProgress(progress)

	if err != nil {
		return err
	}

	statusf("Uploaded %s (%s)\n", remote, formatSize(fi.Size()))

	return nil
}

func runMkdir(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Mkdir(ctx, args[0]); err != nil {
		return err
	}

	statusf("Created %s\n", args[0])

	return nil
}
