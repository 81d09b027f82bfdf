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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/AleutianAI/AleutianAgent/services/orchestrator"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/agent"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAgent/services/orchestrator/persistence"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var conversationID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent on stdin",
	Long: `Starts a line-oriented chat. Each line is one user turn. Type /exit or
send EOF (Ctrl+D) to quit. With --conversation, an existing conversation is
continued, or created with that id if it does not exist.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id to continue")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	svc, err := orchestrator.New(ctx, cfg, orchestrator.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	conv, err := openConversation(ctx, svc.Store(), conversationID)
	if err != nil {
		return err
	}
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	return chatLoop(ctx, os.Stdin, cmd.OutOrStdout(), svc.Agent(), conv, interactive)
}

// openConversation loads id, or creates and saves a new conversation when
// id is empty or unknown.
func openConversation(ctx context.Context, store persistence.Store, id string) (*datatypes.Conversation, error) {
	if id != "" {
		conv, err := store.Load(ctx, id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return nil, err
		}
	}
	conv := datatypes.NewConversation()
	if id != "" {
		conv = datatypes.NewConversationWithID(id)
	}
	if err := store.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// sender is the part of agent.Orchestrator the REPL needs.
type sender interface {
	SendMessage(ctx context.Context, conv *datatypes.Conversation, userText string) (string, error)
}

// chatLoop reads turns from in until EOF or /exit. A failed turn is
// reported and the loop continues; the conversation is left as it was
// before the turn.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, s sender, conv *datatypes.Conversation, interactive bool) error {
	fmt.Fprintf(out, "Conversation %s (%d messages). Type /exit to quit.\n", conv.ID, len(conv.Messages))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), datatypes.MaxMessageContentBytes+1)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}

		answer, err := s.SendMessage(ctx, conv, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if agent.IsLoopExceeded(err) {
				fmt.Fprintln(out, "! The agent did not reach an answer within its iteration limit.")
				continue
			}
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		fmt.Fprintln(out, answer)
	}
}
