// This file implements the auth command: managing encrypted provider API
// keys.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adalundhe/loupe/core/credentials"
)

// =============================================================================
// Auth Command
// =============================================================================

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage embedding provider credentials",
	Long: `Manage API keys for remote embedding providers.

Keys are sealed with a machine-bound key and stored under the state
directory; they never appear in configuration files. A provider's
environment variable (OPENAI_API_KEY, GEMINI_API_KEY) always wins over
a stored key.

Examples:
  loupe auth set openai          # Prompt for the key, hidden input
  loupe auth list
  loupe auth remove openai`,
}

var authSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Store an API key for a provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthSet,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with stored keys",
	RunE:  runAuthList,
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <provider>",
	Short: "Remove a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthRemove,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authRemoveCmd)
}

func openCredentialStore() (*credentials.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return credentials.Open(cfg.Store.Dir)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(args[0])

	store, err := openCredentialStore()
	if err != nil {
		return err
	}

	secret, err := readSecret(cmd, fmt.Sprintf("API key for %s: ", provider))
	if err != nil {
		return err
	}
	if secret == "" {
		return fmt.Errorf("empty key not stored")
	}

	if err := store.Set(provider, secret); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%sStored key for %s.%s\n", colorGreen, provider, colorReset)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	store, err := openCredentialStore()
	if err != nil {
		return err
	}

	providers, err := store.Providers()
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%sNo stored keys.%s\n", colorGray, colorReset)
		return nil
	}
	for _, p := range providers {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

func runAuthRemove(cmd *cobra.Command, args []string) error {
	provider := strings.ToLower(args[0])

	store, err := openCredentialStore()
	if err != nil {
		return err
	}
	if err := store.Delete(provider); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%sRemoved key for %s.%s\n", colorYellow, provider, colorReset)
	return nil
}

// readSecret reads a key without echoing when stdin is a terminal; piped
// input falls back to a plain line read.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.OutOrStdout(), prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
