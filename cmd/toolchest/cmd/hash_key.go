package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolchest-labs/toolchest/internal/adapter/inbound/http"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an API key and its argon2id hash",
	Long: `Generate an API key and the argon2id hash to store in config.

With no argument, a random key is generated and printed once together
with its hash. With an argument, only the hash of the given key is
printed.

The hash goes into the auth.api_keys.key_hash field; the key itself is
what clients send as "Authorization: Bearer <key>" and is never stored
by the server.

Example:
  toolchest hash-key
  # Output:
  #   API key:  wJ3x... (save this, it is not recoverable)
  #   key_hash: $argon2id$v=19$...

Security note: passing the key as an argument leaves it in shell
history. Prefer the no-argument form, or use an environment variable:
  toolchest hash-key "$MY_API_KEY"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashKey,
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}

func runHashKey(cmd *cobra.Command, args []string) error {
	var key string
	generated := false
	if len(args) == 1 {
		key = args[0]
	} else {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		key = base64.RawURLEncoding.EncodeToString(raw)
		generated = true
	}

	hash, err := http.HashAPIKey(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	if generated {
		// The key goes to stdout so it can be piped; everything else
		// is commentary on stderr.
		fmt.Fprintf(os.Stderr, "API key (save this, it is not recoverable):\n")
		fmt.Println(key)
		fmt.Fprintf(os.Stderr, "\nAdd to toolchest.yaml:\n")
		fmt.Fprintf(os.Stderr, "  auth:\n    api_keys:\n      - name: my-client\n        key_hash: %q\n", hash)
		return nil
	}

	fmt.Println(hash)
	return nil
}
