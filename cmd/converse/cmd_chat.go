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
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	flagServerURL string
	flagUserId    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Starts an interactive chat loop against the chatbot service.

Slash commands inside the loop:
  /history   show the stored conversation
  /stats     show session statistics
  /clear     expire the session and start fresh
  /quit      leave the chat`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&flagServerURL, "server", "", "chatbot service URL (default http://localhost:12310)")
	chatCmd.Flags().StringVar(&flagUserId, "user", "", "user id for the session (default $USER)")
	rootCmd.AddCommand(chatCmd)
}

func resolveServerURL() string {
	if flagServerURL != "" {
		return flagServerURL
	}
	if config.ServerURL != "" {
		return config.ServerURL
	}
	return "http://localhost:12310"
}

func resolveUserId() string {
	if flagUserId != "" {
		return flagUserId
	}
	if config.UserId != "" {
		return config.UserId
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "anonymous"
}

func runChat(cmd *cobra.Command, args []string) error {
	client := NewAPIClient(resolveServerURL())
	userId := resolveUserId()
	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if interactive {
		fmt.Printf("Connected to %s as %s. Type /quit to leave.\n", resolveServerURL(), userId)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := runSlashCommand(ctx, client, userId, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		resp, err := client.Chat(ctx, userId, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printChatResponse(resp, interactive)
	}
}

// runSlashCommand handles the in-loop commands. It returns true when the
// loop should exit.
func runSlashCommand(ctx context.Context, client *APIClient, userId, line string) (bool, error) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true, nil
	case "/history":
		history, err := client.History(ctx, userId, 0)
		if err != nil {
			return false, err
		}
		if len(history.Messages) == 0 {
			fmt.Println("(no conversation yet)")
			return false, nil
		}
		for _, msg := range history.Messages {
			label := "You"
			if msg.Role == "assistant" {
				label = "Bot"
			}
			fmt.Printf("%s: %s\n", label, msg.Content)
		}
		return false, nil
	case "/stats":
		stats, err := client.Stats(ctx, userId)
		if err != nil {
			return false, err
		}
		fmt.Printf("session %s: %d messages, expires in %s\n",
			stats.SessionId, stats.MessageCount, stats.TTLRemaining)
		return false, nil
	case "/clear":
		if err := client.Expire(ctx, userId); err != nil {
			return false, err
		}
		fmt.Println("Session cleared.")
		return false, nil
	default:
		fmt.Println("Unknown command. Available: /history /stats /clear /quit")
		return false, nil
	}
}

func printChatResponse(resp *ChatResponse, interactive bool) {
	if resp.Blocked {
		fmt.Printf("[blocked: %s] %s\n", resp.BlockReason, resp.Response)
		return
	}
	fmt.Println(resp.Response)
	if interactive && len(resp.Sources) > 0 {
		fmt.Print("sources:")
		for _, s := range resp.Sources {
			fmt.Printf(" %s", s.Filename)
		}
		fmt.Println()
	}
	if resp.SessionBackend == "degraded" && interactive {
		fmt.Println("(note: session durability is degraded)")
	}
}
