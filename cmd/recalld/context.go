package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/assembler"
	"github.com/fyrsmithlabs/recalld/internal/generation"
)

func newContextCmd() *cobra.Command {
	var (
		req      assembler.Request
		generate bool
	)
	cmd := &cobra.Command{
		Use:   "context <prompt>",
		Short: "Assemble the prompt for a message",
		Long: `Context gathers the recent conversation of a channel, the speaker's
profile and related past messages, and prints the rendered prompt.
With --generate the prompt is sent to the configured generator.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")
			return runContext(cmd.Context(), cmd.OutOrStdout(), req, generate)
		},
	}
	cmd.Flags().StringVar(&req.ChannelID, "channel", "", "channel id (required)")
	cmd.Flags().StringVar(&req.UserID, "user", "", "speaker user id (required)")
	cmd.Flags().IntVar(&req.RecentCount, "recent", assembler.DefaultRecentCount, "recent messages to include")
	cmd.Flags().IntVar(&req.SimilarCount, "similar", assembler.DefaultSimilarCount, "related messages to include")
	cmd.Flags().BoolVar(&req.ScopeToChannel, "scope-channel", false, "only search related messages in the same channel")
	cmd.Flags().BoolVar(&generate, "generate", false, "send the prompt to the configured generator")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runContext(ctx context.Context, out io.Writer, req assembler.Request, generate bool) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	built, err := a.assembler.Build(ctx, req)
	if err != nil {
		return err
	}
	prompt := assembler.BuildPrompt(built, cfg.Server.Persona, req.Prompt)
	fmt.Fprintln(out, prompt)

	if !generate {
		return nil
	}
	if a.generator == nil {
		return fmt.Errorf("generation is not configured (set generation.provider)")
	}
	switch r := a.generator.Generate(ctx, prompt).(type) {
	case generation.Completed:
		fmt.Fprintf(out, "\n---\n%s\n", r.Text)
	case generation.Incomplete:
		return fmt.Errorf("generation incomplete: %s", r.FinishReason)
	case generation.Failed:
		return fmt.Errorf("generation failed: %s", r.Reason)
	}
	return nil
}
