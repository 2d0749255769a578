package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chartrec/internal/pipeline"
)

var (
	runSubject     string
	runOutDir      string
	runResumePhase string
	runClear       bool
	runPlain       bool
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	reviewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconstruct one subject's chart",
	Long: `Run the full pipeline for one subject: discovery, extraction,
adjudication, plausibility validation, report. The run resumes from the last
published checkpoint unless --clear-checkpoints is given.

Exit codes: 0 complete, 2 complete but manual review required, 1 failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runSubject == "" {
			return fmt.Errorf("--subject is required")
		}

		var resume pipeline.Phase
		if runResumePhase != "" {
			var err error
			resume, err = pipeline.ParsePhase(runResumePhase)
			if err != nil {
				return err
			}
		}

		eng, err := assemble(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		if eng.cache != nil {
			if err := eng.cache.Load(runSubject); err != nil {
				return err
			}
			defer eng.cache.Flush()
		}

		logger.Info("starting reconstruction",
			zap.String("subject", runSubject),
			zap.Bool("clear_checkpoints", runClear))

		result, err := eng.orchestrator.Run(cmd.Context(), runSubject, pipeline.RunOptions{
			ResumePhase: resume,
			OutDir:      runOutDir,
			Fresh:       runClear,
		})
		if err != nil {
			return err
		}

		printSummary(result)
		if result.Artifact.ManualReviewNeeded() {
			exitCode = exitManualReview
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runSubject, "subject", "s", "", "subject identifier (required)")
	runCmd.Flags().StringVarP(&runOutDir, "out", "o", "out", "artifact output directory")
	runCmd.Flags().StringVar(&runResumePhase, "resume-phase", "", "force resume from this phase")
	runCmd.Flags().BoolVar(&runClear, "clear-checkpoints", false, "discard existing checkpoints and start over")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "plain markdown output, no terminal rendering")
}

// printSummary renders the markdown summary to the terminal, falling back to
// plain text when rendering is unavailable.
func printSummary(result *pipeline.RunResult) {
	md := result.Artifact.Markdown()

	if !runPlain {
		if rendered, err := glamour.Render(md, "auto"); err == nil {
			fmt.Print(rendered)
		} else {
			fmt.Println(md)
		}
	} else {
		fmt.Println(md)
	}

	if result.Resumed {
		fmt.Printf("Resumed from phase %s.\n", result.StartedFrom)
	}
	fmt.Printf("Artifact: %s\n", result.ArtifactPath)

	if result.Artifact.ManualReviewNeeded() {
		fmt.Fprintln(os.Stderr, reviewStyle.Render("Reconstruction complete; manual review required."))
	} else {
		fmt.Println(okStyle.Render("Reconstruction complete."))
	}
}
