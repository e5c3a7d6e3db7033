package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/mkuusisto/unifs/internal/cloud"
	"github.com/mkuusisto/unifs/internal/credentials"
	"github.com/mkuusisto/unifs/internal/engine"
	"github.com/mkuusisto/unifs/internal/resource"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <account>",
		Short: "Sign in to a cloud account",
		Long: `Sign in to a cloud storage account. The account becomes addressable
as cloud://<account>/path once authorized.

The first login for an account needs --base-url, --client-id, and
--client-secret; they are stored and reused on later logins.`,
		Args: cobra.ExactArgs(1),
		RunE: runLogin,
	}

	cmd.Flags().String("base-url", "", "cloud API base URL")
	cmd.Flags().String("client-id", "", "OAuth client ID")
	cmd.Flags().String("client-secret", "", "OAuth client secret")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <account>",
		Short: "Remove a cloud account's saved session",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogout,
	}
}

// tokenPathFor places an account's token file next to the credential
// database, one file per account.
func tokenPathFor(account string) string {
	return filepath.Join(filepath.Dir(resolvedCfg.Store.Path), "tokens", account+".json")
}

// cloudClientFrom builds the cloud client for a stored account record.
// OAuth endpoints follow the service convention under the base URL.
func cloudClientFrom(rec *credentials.Credentials, logger *slog.Logger) *cloud.Client {
	baseURL := rec.Domain

	return cloud.NewWithAuth(cloud.Config{
		Account: rec.Server,
		BaseURL: baseURL,
		OAuth: &oauth2.Config{
			ClientID:     rec.Username,
			ClientSecret: rec.Password,
			Endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/oauth/authorize",
				TokenURL: baseURL + "/oauth/token",
			},
			RedirectURL: "urn:ietf:wg:oauth:2.0:oob",
		},
		TokenPath: rec.TokenRef,
	}, defaultHTTPClient(), logger)
}

// registerCloudAccounts wires every stored cloud account into the engine.
func registerCloudAccounts(ctx context.Context, e *engine.Engine, logger *slog.Logger) error {
	records, err := e.ListCredentials(ctx)
	if err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]
		if rec.Protocol != resource.KindCloud {
			continue
		}

		e.RegisterCloud(rec.Server, cloudClientFrom(rec, logger))
	}

	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := buildLogger()
	account := args[0]

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := loginRecord(ctx, cmd, e, account)
	if err != nil {
		return err
	}

	cc := cloudClientFrom(rec, logger)

	// A persisted session may still be valid; no interaction needed then.
	if err := cc.Authenticate(ctx); err == nil {
		statusf("Already signed in to %s.\n", account)

		return nil
	}

	state, err := randomState()
	if err != nil {
		return err
	}

	// Authorization prompts must always be visible, not suppressed by --quiet.
	fmt.Fprintf(os.Stderr, "To sign in, visit:\n\n  %s\n\nPaste the code shown after approval: ", cc.AuthCodeURL(state))

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading authorization code: %w", err)
	}

	if err := cc.ExchangeCode(ctx, strings.TrimSpace(code)); err != nil {
		return err
	}

	statusf("Login successful. Files are available under cloud://%s/\n", account)

	return nil
}

// loginRecord loads the stored account record, or creates one from the
// login flags on first use.
func loginRecord(ctx context.Context, cmd *cobra.Command, e *engine.Engine, account string) (*credentials.Credentials, error) {
	records, err := e.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}

	for i := range records {
		rec := &records[i]
		if rec.Protocol == resource.KindCloud && rec.Server == account {
			return rec, nil
		}
	}

	baseURL, _ := cmd.Flags().GetString("base-url")
	clientID, _ := cmd.Flags().GetString("client-id")
	clientSecret, _ := cmd.Flags().GetString("client-secret")

	if baseURL == "" || clientID == "" {
		return nil, fmt.Errorf("account %q is not configured; pass --base-url and --client-id on first login", account)
	}

	rec := &credentials.Credentials{
		Protocol: resource.KindCloud,
		Server:   account,
		Username: clientID,
		Password: clientSecret,
		Domain:   strings.TrimRight(baseURL, "/"),
		TokenRef: tokenPathFor(account),
	}

	if err := e.SaveCredentials(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

func runLogout(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.SignOut(ctx, args[0]); err != nil {
		return err
	}

	statusf("Logged out of %s.\n", args[0])

	return nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)

	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
