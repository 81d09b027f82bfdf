// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/persistence"
	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := orchestrator.OpenStore(cfg.Storage, logger.Slog())
		if err != nil {
			return err
		}
		defer store.Close()
		return listConversations(cmd.Context(), store, cmd.OutOrStdout())
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
}

func listConversations(ctx context.Context, store persistence.Store, out io.Writer) error {
	summaries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGES\tLAST UPDATED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.ID, s.MessageCount, s.LastUpdated.Local().Format(time.DateTime))
	}
	return w.Flush()
}
