package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chartrec/internal/checkpoint"
)

var cleanSubject string

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove checkpoints for a subject",
	Long: `Remove every checkpoint for a subject so the next run starts from
discovery. Does not touch source data, artifacts, or the classification
cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanSubject == "" {
			return fmt.Errorf("--subject is required")
		}
		mgr := checkpoint.NewManager(cfg.CheckpointDir())
		if err := mgr.Clear(cleanSubject); err != nil {
			return err
		}
		fmt.Printf("Cleared checkpoints for %s.\n", cleanSubject)
		return nil
	},
}

func init() {
	cleanCmd.Flags().StringVarP(&cleanSubject, "subject", "s", "", "subject identifier (required)")
}
