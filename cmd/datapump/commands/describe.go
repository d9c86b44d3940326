package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/teranos/datapump/pump/script"
)

// DescribeCmd prints how a script is understood without running it
var DescribeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show how a script is parsed",
	Long: `Parse a script and print one line per job describing what it will do.

With --as-yaml the suite is printed as a YAML definition instead, with every
command normalized.

Examples:
  datapump describe -f nightly.dp
  datapump describe -e "load incident where active=true" --as-yaml`,
	Args: cobra.NoArgs,
	RunE: runDescribe,
}

func init() {
	addScriptFlags(DescribeCmd)
	DescribeCmd.Flags().Bool("as-yaml", false, "Print the suite as a YAML definition")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	suite, err := readSuite(cmd, time.Now())
	if err != nil {
		return err
	}

	if asYAML, _ := cmd.Flags().GetBool("as-yaml"); asYAML {
		data, err := script.DefinitionOf(suite).Marshal()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), suite.Description())
	return nil
}
