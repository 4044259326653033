package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/humansinstitute/intercessio/internal/keys"
	"github.com/humansinstitute/intercessio/internal/metadata"
	"github.com/humansinstitute/intercessio/internal/vault"
)

// keysCmd groups key-provisioning subcommands. Key generation/import writes
// directly to the Metadata Store and Vault rather than going through the
// control socket: provisioning a key is a setup step that must work even
// before intercessiod is first started, not a runtime session operation.
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage signing keys",
}

var listKeysCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned signing keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(request{Type: "list-keys"})
		if err == nil {
			return printKeys(resp.Keys)
		}
		// Fall back to reading the Metadata Store directly when the daemon
		// isn't running: provisioning must not depend on intercessiod being up.
		md, openErr := openMetadataStore()
		if openErr != nil {
			return err
		}
		list, listErr := md.ListKeys()
		if listErr != nil {
			return listErr
		}
		return printKeys(list)
	},
}

var genKeyLabel string

var generateKeyCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new signing key and store it in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := openMetadataStore()
		if err != nil {
			return err
		}
		v, err := openVault()
		if err != nil {
			return err
		}
		km, err := keys.Generate(context.Background(), v, md, genKeyLabel)
		if err != nil {
			return err
		}
		fmt.Println("key:", km.ID)
		fmt.Println("npub:", km.Npub)
		return nil
	},
}

var importKeyLabel string

var importKeyCmd = &cobra.Command{
	Use:   "import <nsec-or-hex-secret>",
	Short: "Import an existing private key into the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := openMetadataStore()
		if err != nil {
			return err
		}
		v, err := openVault()
		if err != nil {
			return err
		}
		km, err := keys.Import(context.Background(), v, md, importKeyLabel, args[0])
		if err != nil {
			return err
		}
		fmt.Println("key:", km.ID)
		fmt.Println("npub:", km.Npub)
		return nil
	},
}

var selectKeyCmd = &cobra.Command{
	Use:   "select <key-id>",
	Short: "Mark a key as the default used by start requests that omit keyId",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := send(request{Type: "select-key", KeyID: args[0]})
		if err != nil {
			return err
		}
		fmt.Println("active key:", args[0])
		return nil
	},
}

var deleteKeyCmd = &cobra.Command{
	Use:   "delete <key-id>",
	Short: "Delete a key's metadata and vault entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(request{Type: "delete-key", KeyID: args[0]}); err != nil {
			return err
		}
		fmt.Println("deleted key:", args[0])
		return nil
	},
}

func printKeys(list []metadata.KeyMetadata) error {
	if len(list) == 0 {
		fmt.Println("No keys provisioned.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tNPUB\tSTORAGE")
	for _, k := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.ID, k.Label, k.Npub, k.StorageKind)
	}
	return w.Flush()
}

func configDir() string {
	if d := os.Getenv("INTERCESSIO_CONFIG_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "intercessio")
}

func openMetadataStore() (*metadata.Store, error) {
	return metadata.Open(configDir())
}

func openVault() (vault.Vault, error) {
	return vault.Open(configDir())
}

func init() {
	generateKeyCmd.Flags().StringVar(&genKeyLabel, "label", "", "human-readable label for the key")
	importKeyCmd.Flags().StringVar(&importKeyLabel, "label", "", "human-readable label for the key")

	keysCmd.AddCommand(listKeysCmd)
	keysCmd.AddCommand(generateKeyCmd)
	keysCmd.AddCommand(importKeyCmd)
	keysCmd.AddCommand(selectKeyCmd)
	keysCmd.AddCommand(deleteKeyCmd)
	rootCmd.AddCommand(keysCmd)
}
