package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"vcoded/pkg/db"
	"vcoded/services/attest"
	"vcoded/services/export"
	"vcoded/services/vcode"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vcodectl",
		Short:         "Utility for exporting and verifying session evidence",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newVerifyCommand())
	cmd.AddCommand(newVerifyBundleCommand())
	cmd.AddCommand(newStatsCommand())
	cmd.AddCommand(newKeysCommand())
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		dsn       string
		sessionID string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a session's evidence bundle from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			signer, err := attest.NewSignerFromEnv()
			if err != nil {
				return err
			}

			session, chain, proof, err := loadSession(ctx, dsn, sessionID)
			if err != nil {
				return err
			}

			_, err = export.Build(export.BuildConfig{
				Session: *session,
				Chain:   chain,
				Proof:   proof,
				Output:  output,
				Signer:  signer,
				Stdout:  os.Stdout,
			})
			return err
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN of the vcoded database")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session to export")
	cmd.Flags().StringVar(&output, "output", "", "Destination bundle file (tar.zst)")
	_ = cmd.MarkFlagRequired("dsn")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newVerifyCommand() *cobra.Command {
	var (
		dsn       string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute a session's chain directly from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			session, chain, _, err := loadSession(ctx, dsn, sessionID)
			if err != nil {
				return err
			}

			if !vcode.VerifyChain(session.ID, chain) {
				return fmt.Errorf("session %s: chain verification FAILED", session.ID)
			}
			fmt.Fprintf(os.Stdout, "session %s: chain verified (%d entries)\n", session.ID, len(chain))
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN of the vcoded database")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session to verify")
	_ = cmd.MarkFlagRequired("dsn")
	_ = cmd.MarkFlagRequired("session-id")
	return cmd
}

func newVerifyBundleCommand() *cobra.Command {
	var (
		file      string
		publicKey string
	)

	cmd := &cobra.Command{
		Use:   "verify-bundle",
		Short: "Verify an exported evidence bundle offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			var signer *attest.Signer
			if publicKey != "" {
				var err error
				signer, err = attest.NewSigner("", publicKey)
				if err != nil {
					return err
				}
			}

			contents, err := export.Verify(file, signer)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "bundle verified: session %s, %d chain entries, signed by %s\n",
				contents.Session.ID, len(contents.Chain), contents.Manifest.SigningPublicKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the bundle tar.zst")
	cmd.Flags().StringVar(&publicKey, "key", "", "Expected base64 Ed25519 public key (defaults to the key embedded in the manifest)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newStatsCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print session and chain counts from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := db.Open(ctx, dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()

			var rows []struct {
				Status string `db:"status"`
				N      int    `db:"n"`
			}
			if err := db.Select(ctx, pool, &rows,
				`SELECT status, count(*) AS n FROM vcode_sessions GROUP BY status ORDER BY status`); err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Fprintf(os.Stdout, "%-12s %d\n", row.Status, row.N)
			}

			var counts struct {
				Entries int `db:"entries"`
				Proofs  int `db:"proofs"`
			}
			if err := db.Get(ctx, pool, &counts,
				`SELECT (SELECT count(*) FROM vcode_chain_entries) AS entries,
				        (SELECT count(*) FROM vcode_proofs) AS proofs`); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "chain entries %d\nproofs        %d\n", counts.Entries, counts.Proofs)
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN of the vcoded database")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Attestation key operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a new attestation key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := age.GenerateX25519Identity()
			if err != nil {
				return err
			}
			signer, err := attest.NewSignerFromIdentity(identity)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "VCODE_ATTEST_SECRET_KEY=%s\n", identity.String())
			fmt.Fprintf(os.Stdout, "VCODE_ATTEST_PUBLIC_KEY=%s\n", signer.PublicKeyBase64())
			return nil
		},
	})
	return cmd
}

func loadSession(ctx context.Context, dsn, rawID string) (*vcode.Session, []vcode.ChainEntry, *vcode.Proof, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse session id: %w", err)
	}

	orm, err := db.OpenGorm(ctx, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	store, err := vcode.NewGormStore(orm)
	if err != nil {
		return nil, nil, nil, err
	}

	session, err := store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	chain, err := store.ListChain(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	proof, err := store.GetProof(ctx, id)
	if err != nil && !errors.Is(err, vcode.ErrNotFound) {
		return nil, nil, nil, err
	}

	return session, chain, proof, nil
}
