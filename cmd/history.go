package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/obsched/core/store"
)

var (
	historyPass     string
	historyResource string
	historySince    time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print persisted pass records as JSON lines",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyPass, "pass", "", "only urgent or normal passes")
	historyCmd.Flags().StringVar(&historyResource, "resource", "", "only records touching this resource")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only records newer than this")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	switch historyPass {
	case "", "urgent", "normal":
	default:
		return fmt.Errorf("unknown pass %q", historyPass)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := cfg.Logging.Open()
	if err != nil {
		return fmt.Errorf("schedule store: %w", err)
	}
	defer st.Close()

	q := store.Query{Pass: historyPass, Resource: historyResource}
	if historySince > 0 {
		q.Start = time.Now().Add(-historySince)
	}
	recs, err := st.Query(context.Background(), q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
