package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mkuusisto/unifs/internal/credentials"
	"github.com/mkuusisto/unifs/internal/resource"
)

func newResourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage configured storage resources",
	}

	add := &cobra.Command{
		Use:   "add <root>",
		Short: "Register a storage location",
		Long: `Register a storage location by its scheme-qualified root, e.g.
smb://nas.local/media, sftp://build.example.com/artifacts, or /mnt/archive.`,
		Args: cobra.ExactArgs(1),
		RunE: runResourceAdd,
	}
	add.Flags().String("credential", "", "credential record reference")
	add.Flags().Bool("read-only", false, "register as read-only")

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured resources",
		Args:  cobra.NoArgs,
		RunE:  runResourceList,
	}

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a configured resource",
		Args:  cobra.ExactArgs(1),
		RunE:  runResourceRm,
	}

	tune := &cobra.Command{
		Use:   "tune <id> <concurrency>",
		Short: "Set the resource endpoint's concurrency ceiling",
		Args:  cobra.ExactArgs(2),
		RunE:  runResourceTune,
	}

	cmd.AddCommand(add, list, rm, tune)

	return cmd
}

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage endpoint credentials",
	}

	set := &cobra.Command{
		Use:   "set <protocol> <server>",
		Short: "Store credentials for an endpoint",
		Long: `Store the credentials used when connecting to an endpoint.
A record scoped with --share wins over a host-wide record for that share.`,
		Args: cobra.ExactArgs(2),
		RunE: runCredentialsSet,
	}
	set.Flags().Int("port", 0, "endpoint port (protocol default when omitted)")
	set.Flags().String("username", "", "sign-in name")
	set.Flags().String("password", "", "password")
	set.Flags().String("domain", "", "SMB workgroup or domain")
	set.Flags().String("share", "", "SMB share this record is scoped to")
	set.Flags().String("key-file", "", "PEM-encoded SFTP private key file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored credential records (no secrets shown)",
		Args:  cobra.NoArgs,
		RunE:  runCredentialsList,
	}

	cmd.AddCommand(set, list)

	return cmd
}

// resourceRow is the JSON schema for `resource list --json`.
type resourceRow struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Root        string `json:"root"`
	Writable    bool   `json:"writable"`
	Concurrency int    `json:"concurrency"`
}

func runResourceAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	credRef, _ := cmd.Flags().GetString("credential")
	readOnly, _ := cmd.Flags().GetBool("read-only")

	r, err := e.AddResource(ctx, args[0], credRef, !readOnly)
	if err != nil {
		return err
	}

	statusf("Added %s resource %s (%s)\n", r.Kind, r.Root, r.ID)

	return nil
}

func runResourceList(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	resources, err := e.ListResources(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		rows := make([]resourceRow, 0, len(resources))
		for i := range resources {
			r := &resources[i]
			rows = append(rows, resourceRow{
				ID:          r.ID,
				Kind:        string(r.Kind),
				Root:        r.Root,
				Writable:    r.Writable,
				Concurrency: r.Concurrency(),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(rows)
	}

	rows := make([][]string, 0, len(resources))

	for i := range resources {
		r := &resources[i]

		access := "rw"
		if !r.Writable {
			access = "ro"
		}

		rows = append(rows, []string{
			r.ID, string(r.Kind), r.Root, access, strconv.Itoa(r.Concurrency()),
		})
	}

	printTable(os.Stdout, []string{"ID", "KIND", "ROOT", "ACCESS", "CONCURRENCY"}, rows)

	return nil
}

func runResourceRm(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.RemoveResource(ctx, args[0]); err != nil {
		return err
	}

	statusf("Removed resource %s\n", args[0])

	return nil
}

func runResourceTune(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	limit, err := strconv.Atoi(args[1])
	if err != nil || limit < 1 {
		return fmt.Errorf("concurrency must be a positive integer, got %q", args[1])
	}

	if err := e.SetResourceConcurrency(ctx, args[0], limit); err != nil {
		return err
	}

	statusf("Resource %s concurrency set to %d\n", args[0], limit)

	return nil
}

func runCredentialsSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	kind := resource.Kind(args[0])

	switch kind {
	case resource.KindSMB, resource.KindSFTP, resource.KindFTP:
	default:
		return fmt.Errorf("unknown protocol %q (want smb, sftp, or ftp)", args[0])
	}

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		switch kind {
		case resource.KindSMB:
			port = resource.DefaultPortSMB
		case resource.KindSFTP:
			port = resource.DefaultPortSFTP
		case resource.KindFTP:
			port = resource.DefaultPortFTP
		}
	}

	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	domain, _ := cmd.Flags().GetString("domain")
	share, _ := cmd.Flags().GetString("share")
	keyFile, _ := cmd.Flags().GetString("key-file")

	var key []byte

	if keyFile != "" {
		key, err = os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("reading key file: %w", err)
		}
	}

	rec := &credentials.Credentials{
		Protocol:   kind,
		Server:     args[1],
		Port:       port,
		Username:   username,
		Password:   password,
		Domain:     domain,
		Share:      share,
		PrivateKey: key,
	}

	if err := e.SaveCredentials(ctx, rec); err != nil {
		return err
	}

	statusf("Stored credentials for %s://%s\n", kind, args[1])

	return nil
}

func runCredentialsList(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	records, err := e.ListCredentials(ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(records))

	for i := range records {
		rec := &records[i]

		scope := rec.Share
		if scope == "" {
			scope = "-"
		}

		rows = append(rows, []string{
			string(rec.Protocol),
			rec.Server,
			strconv.Itoa(rec.Port),
			rec.Username,
			scope,
		})
	}

	printTable(os.Stdout, []string{"PROTOCOL", "SERVER", "PORT", "USERNAME", "SHARE"}, rows)

	return nil
}
