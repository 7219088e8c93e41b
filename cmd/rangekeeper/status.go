package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rangekeeper/rangekeeper/internal/persistence"
)

func runStatus(cmd *cobra.Command, _ []string) error {
	statePath, _ := cmd.Flags().GetString("state-file")

	store, err := persistence.NewFileStore(statePath)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}

	states := store.AllPoolStates()
	if len(states) == 0 {
		fmt.Println("no pool state recorded yet")
		return nil
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(states)
}
