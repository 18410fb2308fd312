package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/oracle"
	"github.com/forgeloop/forgeloop/pkg/orchestrate"
	"github.com/forgeloop/forgeloop/pkg/utils"
)

var (
	buildTech       []string
	buildRunCmd     string
	buildExpect     string
	buildResume     bool
	buildSteps      int
	buildCandidates int
	buildModel      string
	buildQuiet      bool
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build [goal...]",
	Short: "Run a build session toward a goal",
	Long: `Build plans a short sequence of steps toward the stated goal, asks the
model for file changes per step, applies them, runs the project to validate,
and repairs or rolls back on failure. State is persisted after every step so
an interrupted session can be resumed with --resume.

Examples:
  forgeloop build "a number guessing game" --tech python
  forgeloop build --resume
  forgeloop build "a REST todo API" --run-cmd "pytest -q" --candidates 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.TrimSpace(strings.Join(args, " "))
		if goal == "" && !buildResume {
			return fmt.Errorf("a goal is required unless resuming (use --resume)")
		}

		root, err := os.Getwd()
		if err != nil {
			return err
		}

		cfg, err := config.Load(root)
		if err != nil {
			return err
		}
		if buildSteps > 0 {
			cfg.MaxSteps = buildSteps
		}
		if buildCandidates > 0 {
			cfg.CandidateCount = buildCandidates
		}
		if buildModel != "" {
			cfg.Model = buildModel
		}
		// Piped output implies quiet: no interactive echo into scripts.
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			buildQuiet = true
		}
		cfg.Quiet = buildQuiet

		logger := utils.GetLogger(cfg.Quiet)

		orc, err := oracle.NewOllamaOracle(cfg.Model, cfg.Temperature, logger)
		if err != nil {
			return fmt.Errorf("could not reach the model backend: %w", err)
		}

		session, err := orchestrate.New(root, cfg, orc, orchestrate.Options{
			Goal:         goal,
			Technologies: buildTech,
			RunCommand:   buildRunCmd,
			Expect:       buildExpect,
			Resume:       buildResume,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		outcome, err := session.Run(ctx)
		if err != nil {
			return err
		}
		printOutcome(outcome)
		if outcome.Status != orchestrate.StatusSuccess {
			os.Exit(1)
		}
		return nil
	},
}

func printOutcome(o *orchestrate.Outcome) {
	switch o.Status {
	case orchestrate.StatusSuccess:
		color.Green("Build succeeded in %.1fs (%d steps)", o.Elapsed.Seconds(), len(o.Steps))
	case orchestrate.StatusAwaitingDependency:
		color.Yellow("Halted: missing dependency %q (recorded in requirements.txt)", o.AwaitingDependency)
		fmt.Println("Install it, then rerun with --resume.")
	case orchestrate.StatusNoProgress:
		color.Red("No further progress possible at step: %s", o.FailedStep)
	default:
		color.Red("Build failed at step: %s", o.FailedStep)
		if tail := strings.TrimSpace(o.Stderr); tail != "" {
			fmt.Println("--- stderr tail ---")
			fmt.Println(tail)
		}
	}
}

func init() {
	buildCmd.Flags().StringSliceVarP(&buildTech, "tech", "t", nil, "technologies to use (e.g. python, flask)")
	buildCmd.Flags().StringVar(&buildRunCmd, "run-cmd", "", "verification command (inferred when empty)")
	buildCmd.Flags().StringVar(&buildExpect, "expect", "", "substring expected in stdout for success")
	buildCmd.Flags().BoolVar(&buildResume, "resume", false, "resume the interrupted session in this directory")
	buildCmd.Flags().IntVar(&buildSteps, "steps", 0, "cap on plan length (default from config)")
	buildCmd.Flags().IntVar(&buildCandidates, "candidates", 0, "candidate change sets per step (>1 enables evaluation)")
	buildCmd.Flags().StringVar(&buildModel, "model", "", "model name override")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "suppress process step output")
}
