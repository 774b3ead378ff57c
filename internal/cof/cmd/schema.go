package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"cof/internal/search"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate the JSON schema of the search configuration",
	Long: `Generate the JSON schema of a search configuration region entry.
A search configuration file is a JSON array of such entries; comments
are allowed when the file is read back.`,
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := new(jsonschema.Reflector)
		bts, err := json.MarshalIndent(reflector.Reflect(&search.RegionConfig{}), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		fmt.Println(string(bts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
