package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"chartrec/internal/checkpoint"
	"chartrec/internal/evidence"
	"chartrec/internal/investigate"
	"chartrec/internal/pipeline"
)

var statusSubject string

var (
	phaseDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	phasePending = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint progress for a subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusSubject == "" {
			return fmt.Errorf("--subject is required")
		}

		mgr := checkpoint.NewManager(cfg.CheckpointDir())
		done, err := mgr.Phases(statusSubject)
		if err != nil {
			return err
		}
		completed := make(map[pipeline.Phase]bool, len(done))
		for _, name := range done {
			completed[pipeline.Phase(name)] = true
		}

		var latest pipeline.Phase
		fmt.Printf("Subject %s:\n", statusSubject)
		for _, p := range pipeline.Order {
			if completed[p] {
				env, err := mgr.Load(statusSubject, string(p), nil)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("  [done]    %-12s saved %s", p, env.SavedAt.Format("2006-01-02 15:04:05"))
				if env.Fallbacks > 0 {
					line += fmt.Sprintf(" (%d encoder fallbacks)", env.Fallbacks)
				}
				fmt.Println(phaseDone.Render(line))
				latest = p
			} else {
				fmt.Println(phasePending.Render(fmt.Sprintf("  [pending] %s", p)))
			}
		}

		if latest != "" {
			return printGaps(mgr, latest)
		}
		return nil
	},
}

// printGaps lists the unresolved gaps in the newest checkpoint, each with the
// ranked strategies an investigation would try next.
func printGaps(mgr *checkpoint.Manager, latest pipeline.Phase) error {
	var state pipeline.State
	if _, err := mgr.Load(statusSubject, string(latest), &state); err != nil {
		return err
	}

	factIDs := make([]string, 0, len(state.Gaps))
	for id, g := range state.Gaps {
		if g.Status != evidence.GapResolved {
			factIDs = append(factIDs, id)
		}
	}
	if len(factIDs) == 0 {
		return nil
	}
	sort.Strings(factIDs)

	fmt.Println("Unresolved gaps:")
	for _, id := range factIDs {
		g := state.Gaps[id]
		fmt.Printf("  %s: %s (%s, priority %s, %d attempts)\n",
			id, g.Status, g.Type, g.Priority, len(g.Attempts))
		for i, s := range investigate.StrategiesFor(g.Type) {
			fmt.Printf("    %d. %s (est. %.2f): %s\n", i+1, s.Name, s.Confidence, s.Description)
		}
	}
	return nil
}

func init() {
	statusCmd.Flags().StringVarP(&statusSubject, "subject", "s", "", "subject identifier (required)")
}
