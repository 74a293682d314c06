package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashkeyCmd = &cobra.Command{
	Use:   "hashkey [admin-key]",
	Short: "Generate an argon2id hash for the admin key",
	Long: `Generate an argon2id hash of an admin key for use in config.

The output can be used directly as the server.admin_key_hash value. Requests
to the policy mutation endpoints must then carry the plaintext key in the
X-Guardian-Admin-Key header.

Example:
  guardian hashkey "my-admin-key"

Security note: the key will appear in shell history. Consider using an
environment variable instead:
  guardian hashkey "$GUARDIAN_ADMIN_KEY_PLAINTEXT"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashkeyCmd)
}
