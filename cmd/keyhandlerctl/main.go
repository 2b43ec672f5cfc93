// Package main は運用CLIツールのエントリポイント。
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dovecot-keyhandler/config"
	"dovecot-keyhandler/internal/validation"
	"dovecot-keyhandler/pkg/passhash"
)

var (
	apiURL      string
	databaseURL string
	timeout     time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "keyhandlerctl",
		Short:        "Dovecot key handler CLI",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			if apiURL == "" {
				apiURL = os.Getenv("KEYHANDLER_API_URL")
			}
			if databaseURL == "" {
				databaseURL = os.Getenv("AUDIT_DATABASE_URL")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set KEYHANDLER_API_URL)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Audit database DSN (or set AUDIT_DATABASE_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(hashCmd())
	rootCmd.AddCommand(createKeyCmd())
	rootCmd.AddCommand(changePasswordCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keyhandlerctl version %s\n", config.Version)
		},
	}
}

// hashCmd はPASSWORD_HASH用のArgon2idハッシュを生成する。
// --dataが無い場合は標準入力の1行目を読む。
func hashCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Generate an Argon2id hash for PASSWORD_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := data
			if !cmd.Flags().Changed("data") {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading secret from stdin: %w", err)
				}
				secret = line
			}
			if !validation.IsPasswordAllowed(secret) {
				return fmt.Errorf("secret contains characters the service will reject")
			}

			hash, err := passhash.Hash(secret)
			if err != nil {
				return fmt.Errorf("hashing secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Secret to hash (reads stdin when omitted)")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
