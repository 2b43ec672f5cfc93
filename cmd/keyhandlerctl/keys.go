package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// errorPrefix はサービスが論理エラーを返すときの本文の先頭。
const errorPrefix = "error:"

// createKeyCmd は鍵の生成コマンド。
func createKeyCmd() *cobra.Command {
	var email, keyPassword, password string
	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Create a mail_crypt key for a mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			form := url.Values{
				"email":        {email},
				"key_password": {keyPassword},
				"password":     {password},
			}
			return submit(cmd, "/create_key", form)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Mailbox email address (required)")
	cmd.Flags().StringVar(&keyPassword, "key-password", "", "Base64 key password (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (required)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("key-password")
	cmd.MarkFlagRequired("password")
	return cmd
}

// changePasswordCmd は鍵パスワードの変更コマンド。
func changePasswordCmd() *cobra.Command {
	var email, current, next, password string
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the password protecting a mailbox key",
		RunE: func(cmd *cobra.Command, args []string) error {
			form := url.Values{
				"email":                {email},
				"current_key_password": {current},
				"new_key_password":     {next},
				"password":             {password},
			}
			return submit(cmd, "/change_password_on_key", form)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Mailbox email address (required)")
	cmd.Flags().StringVar(&current, "current-key-password", "", "Current base64 key password (required)")
	cmd.Flags().StringVar(&next, "new-key-password", "", "New base64 key password (required)")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (required)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("current-key-password")
	cmd.MarkFlagRequired("new-key-password")
	cmd.MarkFlagRequired("password")
	return cmd
}

func submit(cmd *cobra.Command, path string, form url.Values) error {
	if apiURL == "" {
		return fmt.Errorf("--api-url is required (or set KEYHANDLER_API_URL)")
	}

	body, err := postForm(cmd.Context(), httpClient, strings.TrimRight(apiURL, "/")+path, form)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), body)

	if strings.HasPrefix(body, errorPrefix) {
		return errors.New(body)
	}
	return nil
}

// postForm はフォームをPOSTし、レスポンス本文を返す。
func postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}
