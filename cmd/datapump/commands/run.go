package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/datapump/controller"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/logger"
	"github.com/teranos/datapump/sym"
)

// RunCmd runs an ephemeral suite in the foreground
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Pump + " Run a suite from a script",
	Long: sym.Pump + ` run — Run a suite in the foreground

The suite is read from a script file, from one or more -e commands, or from a
YAML definition. A script whose first line is "every N minutes" keeps running
at that frequency until interrupted. Ctrl+C cancels the running job.

Examples:
  datapump run -f nightly.dp
  datapump run -e "load incident" -e "refresh sys_user"
  datapump run --yaml nightly.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	addScriptFlags(RunCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	suite, err := readSuite(cmd, time.Now())
	if err != nil {
		return err
	}

	src, err := newSource(cfg)
	if err != nil {
		return err
	}
	session, err := controller.OpenSession(cfg, src, logger.Logger.Named("target"))
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	opts := controller.OptionsFrom(cfg)
	opts.Output = cmd.OutOrStdout()
	c := controller.NewSuiteController(suite, session, nil, opts, logger.Logger.Named("controller"))
	if err := c.Poll(ctx); err != nil {
		if errors.IsCancellation(err) {
			pterm.Warning.Println("Suite cancelled")
		}
		return err
	}

	pterm.Success.Printf("%s Suite %s\n", sym.StatusOK, suite.Status())
	return nil
}
