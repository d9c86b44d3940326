package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/pump"
	"github.com/teranos/datapump/source"
	"github.com/teranos/datapump/sym"
)

// SuiteCmd manages suites in the local catalog
var SuiteCmd = &cobra.Command{
	Use:   "suite",
	Short: sym.Suite + " Manage persistent suites",
	Long: sym.Suite + ` suite — Manage suites in the local catalog

Persistent suites are stored in the local status database and run by the
daemon. A suite with a frequency becomes READY again after each run.

Examples:
  datapump suite add nightly -f nightly.dp --target mart
  datapump suite ls
  datapump suite show nightly
  datapump suite resume nightly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var suiteAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a suite from a script",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuiteAdd,
}

var suiteLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List suites",
	Args:    cobra.NoArgs,
	RunE:    runSuiteLs,
}

var suiteShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a suite, its jobs and recent runs",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuiteShow,
}

var suiteResumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Resume a failed or cancelled suite",
	Long: `Mark a FAILED or CANCELLED suite RESUME. The daemon picks it up on its next
scan and reruns the failed job from its recorded interval and partition.`,
	Args: cobra.ExactArgs(1),
	RunE: runSuiteResume,
}

var runsLimitFlag int

func init() {
	addScriptFlags(suiteAddCmd)
	suiteAddCmd.Flags().String("target", "", "Target tag the daemon filters on")
	suiteShowCmd.Flags().IntVar(&runsLimitFlag, "limit", 10, "Number of recent runs to show")

	SuiteCmd.AddCommand(suiteAddCmd)
	SuiteCmd.AddCommand(suiteLsCmd)
	SuiteCmd.AddCommand(suiteShowCmd)
	SuiteCmd.AddCommand(suiteResumeCmd)
}

func runSuiteAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	suite, err := readSuite(cmd, time.Now())
	if err != nil {
		return err
	}
	suite.Name = args[0]
	if target, _ := cmd.Flags().GetString("target"); target != "" {
		suite.Target = target
	}

	s, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := s.AddSuite(cmd.Context(), suite); err != nil {
		return storeError(err)
	}
	pterm.Success.Printf("Added suite %s with %d job(s)\n", suite.Name, len(suite.Jobs))
	return nil
}

func runSuiteLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	suites, err := s.Suites(cmd.Context())
	if err != nil {
		return err
	}
	if len(suites) == 0 {
		pterm.Info.Println("No suites. Add one with: datapump suite add <name> -f script.dp")
		return nil
	}

	data := pterm.TableData{{"", "NAME", "STATUS", "TARGET", "EVERY", "NEXT RUN"}}
	for _, suite := range suites {
		every := "-"
		if suite.IsPolling() {
			every = suite.Frequency.String()
		}
		target := suite.Target
		if target == "" {
			target = "-"
		}
		data = append(data, []string{
			statusGlyph(suite.Status()),
			suite.Name,
			string(suite.Status()),
			target,
			every,
			formatOptionalTime(suite.NextRunStart()),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runSuiteShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	suite, err := s.SuiteByName(ctx, args[0])
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printf("%s %s", sym.Suite, suite.Name)
	fmt.Printf("Status:    %s %s\n", statusGlyph(suite.Status()), suite.Status())
	fmt.Printf("Run start: %s\n", formatOptionalTime(suite.RunStart()))
	fmt.Printf("Next run:  %s\n", formatOptionalTime(suite.NextRunStart()))
	fmt.Println()

	jobs := pterm.TableData{{"", "JOB", "STATUS", "COMMAND", "MESSAGE"}}
	for _, j := range suite.Jobs {
		jobs = append(jobs, []string{statusGlyph(j.Status()), j.Name, string(j.Status()), j.Description(), j.Message()})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(jobs).Render(); err != nil {
		return err
	}

	runs, err := s.Runs(ctx, suite.Key, runsLimitFlag)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Println()
	history := pterm.TableData{{"", "RUN START", "FINISHED", "STATUS", "PUBLISHED", "MESSAGE"}}
	for _, r := range runs {
		history = append(history, []string{
			statusGlyph(r.Status),
			source.FormatTime(r.RunStart),
			formatOptionalTime(r.Finished),
			string(r.Status),
			strconv.Itoa(r.Published),
			r.Message,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(history).Render()
}

func runSuiteResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	suite, err := s.SuiteByName(ctx, args[0])
	if err != nil {
		return err
	}
	switch st := suite.Status(); st {
	case pump.StatusFailed, pump.StatusCancelled:
	default:
		return errors.WithHint(errors.NewInit("suite %s is %s", suite.Name, st),
			"only FAILED or CANCELLED suites can be resumed")
	}
	if err := s.SetSuiteStatus(ctx, suite.Key, pump.StatusResume); err != nil {
		return storeError(err)
	}
	pterm.Success.Printf("Suite %s will resume on the next scan\n", suite.Name)
	return nil
}

func statusGlyph(st pump.Status) string {
	switch st {
	case pump.StatusComplete, pump.StatusReady:
		return sym.StatusOK
	case pump.StatusFailed, pump.StatusCancelled:
		return sym.StatusFailed
	case pump.StatusRunning:
		return sym.StatusRunning
	default:
		return sym.StatusWaiting
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return source.FormatTime(*t)
}
