package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"aepblueprint/internal/db"
	"aepblueprint/internal/export"
	"aepblueprint/internal/outline"

	"github.com/spf13/cobra"
)

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, dialect, err := c.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			applied, err := db.Migrate(cmd.Context(), conn, dialect)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if len(applied) == 0 {
				fmt.Fprintln(c.out, "database is up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(c.out, "applied %s\n", v)
			}
			return nil
		},
	}
}

func (c *cli) importCmd() *cobra.Command {
	var (
		format string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Append the sections of a json, yaml or xlsx template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTemplate(args[0], format)
			if err != nil {
				return err
			}
			t, err = t.Normalize()
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(c.out, "template ok: %d sections, %d questions\n", len(t.Sections), countPrompts(t))
				return nil
			}

			s, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			created, err := s.svc.ImportOutline(cmd.Context(), t)
			if err != nil {
				return err
			}
			questions := 0
			for _, sec := range created {
				questions += len(sec.Questions)
			}
			fmt.Fprintf(c.out, "imported %d sections, %d questions\n", len(created), questions)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "template format (json, yaml or xlsx); defaults to the file extension")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the template without writing")
	return cmd
}

func readTemplate(path, format string) (outline.Template, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	f, err := os.Open(path)
	if err != nil {
		return outline.Template{}, err
	}
	defer f.Close()

	if strings.EqualFold(format, "xlsx") {
		return export.ParseTemplateXLSX(f)
	}
	return outline.ParseTemplate(f, format)
}

func countPrompts(t outline.Template) int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Questions)
	}
	return n
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		format string
		out    string
		title  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the outline as md, html, pdf, xlsx, json or yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			s, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if title == "" {
				title = c.cfg.ExportTitle
			}
			exporter := export.NewService(s.svc, export.Config{Title: title, Logger: s.log})
			res, err := exporter.Export(cmd.Context(), export.Request{Format: f})
			if err != nil {
				return err
			}

			if out == "-" {
				_, err := c.out.Write(res.Data)
				return err
			}
			if out == "" {
				out = res.Filename
			}
			if err := os.WriteFile(out, res.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s (%d bytes)\n", out, len(res.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "md", "export format")
	cmd.Flags().StringVarP(&out, "out", "o", "", `output path, "-" for stdout; defaults to the dated file name`)
	cmd.Flags().StringVar(&title, "title", "", "document title")
	return cmd
}

func (c *cli) progressCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Print document and per section completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			sections, err := s.svc.ListSections(cmd.Context())
			if err != nil {
				return err
			}
			doc := s.svc.DocumentProgress(cmd.Context())
			rows := make([]outline.Progress, 0, len(sections))
			for _, sec := range sections {
				p, err := s.svc.SectionProgress(cmd.Context(), sec.ID)
				if err != nil {
					return err
				}
				rows = append(rows, p)
			}

			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"document": doc, "sections": rows})
			}
			return writeProgressTable(c.out, sections, rows, doc)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func writeProgressTable(w io.Writer, sections []outline.Section, rows []outline.Progress, doc outline.Progress) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSECTION\tFINAL\tDRAFT\tOPEN\tPERCENT")
	for i, sec := range sections {
		p := rows[i]
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d%%\n", i+1, sec.Title, p.Final, p.Draft, p.Unanswered, p.Percent)
	}
	fmt.Fprintf(tw, "\tDocument\t%d\t%d\t%d\t%d%%\n", doc.Final, doc.Draft, doc.Unanswered, doc.Percent)
	return tw.Flush()
}

func (c *cli) reorderCmd() *cobra.Command {
	var (
		sectionID string
		from, to  int
	)
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Move a section, or a question within --section, from one position to another",
		Long:  "Positions are 1-based and follow the current display order.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from < 1 || to < 1 {
				return errors.New("--from and --to must be positive positions")
			}
			s, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			local := outline.NewLocalOutline(s.svc.ListSections)
			if err := local.Refresh(ctx); err != nil {
				return err
			}

			var plan []outline.OrderUpdate
			if sectionID == "" {
				plan, err = local.ReorderSections(ctx, from-1, to-1, s.svc.ApplySectionOrder)
			} else {
				plan, err = local.ReorderQuestions(ctx, sectionID, from-1, to-1, func(ctx context.Context, p []outline.OrderUpdate) error {
					return s.svc.ApplyQuestionOrder(ctx, sectionID, p)
				})
			}
			if err != nil {
				return err
			}
			if len(plan) == 0 {
				fmt.Fprintln(c.out, "nothing to move")
				return nil
			}
			printOrder(c.out, local.Sections(), sectionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sectionID, "section", "", "reorder the questions of this section instead of the sections")
	cmd.Flags().IntVar(&from, "from", 0, "current position")
	cmd.Flags().IntVar(&to, "to", 0, "target position")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func printOrder(w io.Writer, sections []outline.Section, sectionID string) {
	if sectionID == "" {
		for _, sec := range sections {
			fmt.Fprintf(w, "%d. %s\n", sec.OrderIdx, sec.Title)
		}
		return
	}
	for _, sec := range sections {
		if sec.ID != sectionID {
			continue
		}
		for _, q := range sec.Questions {
			fmt.Fprintf(w, "%d. %s\n", q.OrderIdx, q.Prompt)
		}
	}
}

func (c *cli) repairCmd() *cobra.Command {
	var sectionID string
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Renumber sections, or the questions of --section, to a contiguous 1..n order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			var plan []outline.OrderUpdate
			if sectionID == "" {
				plan, err = s.svc.RepairSectionOrder(cmd.Context())
			} else {
				plan, err = s.svc.RepairQuestionOrder(cmd.Context(), sectionID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "renumbered %d rows\n", len(plan))
			return nil
		},
	}
	cmd.Flags().StringVar(&sectionID, "section", "", "repair the questions of this section")
	return cmd
}
