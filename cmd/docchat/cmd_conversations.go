package main

import (
	"fmt"
	"io"
	"strings"

	"docchat/internal/chat"
	"docchat/internal/export"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ctrl.RefreshConversations(ctx); err != nil {
				return err
			}
			convs := a.ctrl.View().Conversations
			if len(convs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet.")
				return nil
			}
			rows := make([][]string, 0, len(convs))
			for _, s := range convs {
				created := ""
				if !s.CreatedAt.IsZero() {
					created = s.CreatedAt.Local().Format("2006-01-02 15:04")
				}
				rows = append(rows, []string{s.ID.String(), s.Label(), created, s.LastMessagePreview})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "TITLE", "CREATED", "LAST MESSAGE"}, rows)
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		render   bool
		doExport bool
	)
	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a conversation transcript as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			id := chat.ID(strings.TrimSpace(args[0]))
			if err := a.ctrl.Open(ctx, id); err != nil {
				return err
			}
			msgs := a.ctrl.View().Messages

			if doExport {
				exp, err := export.New(c.cfg.ExportDir)
				if err != nil {
					return err
				}
				conv := chat.Conversation{ConversationSummary: chat.ConversationSummary{ID: id}, Messages: msgs}
				path, err := exp.Export(conv)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Exported:", path)
				return nil
			}

			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
				return nil
			}
			return c.printMarkdown(cmd.OutOrStdout(), export.BuildTranscriptMarkdown(msgs), render)
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "render markdown for the terminal")
	cmd.Flags().BoolVar(&doExport, "export", false, "write the transcript to the export directory instead of stdout")
	return cmd
}

func (c *cli) sendCmd() *cobra.Command {
	var (
		conversation string
		docs         []string
		render       bool
	)
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Ask one question and print the answer",
		Long: `Sends a single message and prints the assistant's reply with its sources.
Without --conversation a new conversation is started and its id is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ctrl.Init(ctx); err != nil {
				c.logger.Warn("startup listing incomplete", zap.Error(err))
			}
			if conversation != "" {
				if err := a.ctrl.Open(ctx, chat.ID(conversation)); err != nil {
					return err
				}
			}
			for _, d := range docs {
				id := chat.ID(strings.TrimSpace(d))
				if id.IsZero() || a.ctrl.View().DocumentSelected(id) {
					continue
				}
				a.ctrl.ToggleDocument(id)
			}

			text := strings.Join(args, " ")
			sendErr := a.ctrl.Send(ctx, text)
			view := a.ctrl.View()
			if sendErr != nil && len(view.Messages) == 0 {
				return sendErr
			}

			out := cmd.OutOrStdout()
			if n := len(view.Messages); n > 0 {
				reply := view.Messages[n-1]
				md := reply.Text
				if len(reply.Sources) > 0 {
					md += "\n\n" + export.SourcesMarkdown(reply.Sources)
				}
				if err := c.printMarkdown(out, md, render); err != nil {
					return err
				}
			}
			if !view.ConversationID.IsZero() {
				fmt.Fprintln(out, "conversation:", view.ConversationID)
			}
			if sendErr != nil {
				return fmt.Errorf("send failed, run again to retry: %w", sendErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "continue this conversation")
	cmd.Flags().StringSliceVarP(&docs, "doc", "d", nil, "restrict retrieval to this document id (repeatable)")
	cmd.Flags().BoolVar(&render, "render", false, "render markdown for the terminal")
	return cmd
}

func (c *cli) printMarkdown(w io.Writer, md string, render bool) error {
	if !render {
		_, err := io.WriteString(w, strings.TrimRight(md, "\n")+"\n")
		return err
	}
	r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(c.cfg.GlamourStyle), glamour.WithWordWrap(100))
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}
