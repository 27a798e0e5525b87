package main

import (
	"fmt"
	"strings"

	"docchat/internal/chat"
	"docchat/internal/gateway"

	"github.com/spf13/cobra"
)

func (c *cli) docsCmd() *cobra.Command {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "Manage the documents answers are drawn from",
	}
	docs.AddCommand(c.docsListCmd(), c.docsUploadCmd(), c.docsDeleteCmd())
	return docs
}

func (c *cli) docsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ctrl.RefreshDocuments(ctx); err != nil {
				return err
			}
			docs := a.ctrl.View().Documents
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No indexed documents.")
				return nil
			}
			rows := make([][]string, 0, len(docs))
			for _, d := range docs {
				rows = append(rows, []string{d.ID.String(), d.DisplayName(), d.FileType, d.Status})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "TYPE", "STATUS"}, rows)
			return nil
		},
	}
}

func (c *cli) docsUploadCmd() *cobra.Command {
	var meta gateway.UploadMetadata
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload PDF, DOCX or TXT files for indexing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			a, err := c.open()
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.ctrl.UploadDocuments(ctx, args, meta)
			if results == nil && err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Success {
					fmt.Fprintf(out, "ok      %s\n", r.Filename)
					continue
				}
				failed++
				reason := r.Error
				if reason == "" {
					reason = r.Message
				}
				fmt.Fprintf(out, "failed  %s: %s\n", r.Filename, reason)
			}
			if err != nil {
				c.logger.Sugar().Warnf("document list not refreshed: %v", err)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files rejected", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&meta.Title, "title", "", "document title")
	cmd.Flags().StringVar(&meta.Description, "description", "", "document description")
	cmd.Flags().StringSliceVar(&meta.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&meta.Visibility, "visibility", "private", "private or public")
	return cmd
}

func (c *cli) docsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document",
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
			if err := a.ctrl.DeleteDocument(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted", id)
			return nil
		},
	}
}
