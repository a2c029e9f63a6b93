package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tracker/internal/priority"
	"github.com/antigravity-dev/tracker/internal/query"
	"github.com/antigravity-dev/tracker/internal/store"
	"github.com/antigravity-dev/tracker/internal/tracker"
)

var (
	exportLabel  string
	exportFormat string
	importSync   bool
	tableLabel   string
	tableClosed  bool
	tableWhere   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write issues as JSON or YAML to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.engine.Export(strings.TrimSpace(exportLabel))
		if err != nil {
			return err
		}
		switch exportFormat {
		case "json":
			return tracker.WriteItems(cmd.OutOrStdout(), items)
		case "yaml":
			return tracker.WriteItemsYAML(cmd.OutOrStdout(), items)
		}
		return fmt.Errorf("unknown export format %q (want json or yaml)", exportFormat)
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import issues from a JSON dump",
	Long: `Import a JSON array of issues, as written by export. Use "-" to read stdin.
Items are queued as independent tasks unless --sync is given or the import
backend is "sync"; a synchronous import stops at the first bad item.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		items, err := tracker.DecodeItems(r)
		if err != nil {
			return err
		}

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.importer.ImportAll(cmd.Context(), items, !importSync); err != nil {
			return err
		}
		if err := a.drain(); err != nil {
			return fmt.Errorf("some items failed to import: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d item(s)\n", len(items))
		return nil
	},
}

var fixPriorityCmd = &cobra.Command{
	Use:   "fixpriority",
	Short: "Rewrite legacy priority labels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.engine.FixPriorityLabels()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d issue(s), changed %d\n", report.Scanned, len(report.Changed))
		for _, id := range report.Changed {
			fmt.Fprintf(cmd.OutOrStdout(), "  #%d\n", id)
		}
		return nil
	},
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Show open issues grouped by priority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		where, err := query.Compile(tableWhere)
		if err != nil {
			return err
		}

		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		table, err := a.engine.Table(strings.TrimSpace(tableLabel), tableClosed, where)
		if err != nil {
			return err
		}
		printTable(cmd.OutOrStdout(), table)
		return nil
	},
}

var bucketColors = map[priority.Bucket]*color.Color{
	priority.UrgentImportant: color.New(color.FgRed, color.Bold),
	priority.Important:       color.New(color.FgYellow, color.Bold),
	priority.Urgent:          color.New(color.FgCyan, color.Bold),
	priority.Neither:         color.New(color.FgGreen, color.Bold),
}

func printTable(w io.Writer, t priority.Table) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	for _, row := range t.Rows {
		header := bucketColors[row.Bucket].SprintFunc()
		fmt.Fprintf(w, "%s %s\n", header(row.Bucket.Label()), header(row.Title))
		printIssues(w, row.Issues, gray)
		fmt.Fprintln(w)
	}
	if len(t.Unclassified) > 0 {
		magenta := color.New(color.FgMagenta, color.Bold).SprintFunc()
		fmt.Fprintf(w, "%s\n", magenta("Unclassified"))
		printIssues(w, t.Unclassified, gray)
	}
}

func printIssues(w io.Writer, issues []store.Issue, gray func(a ...interface{}) string) {
	if len(issues) == 0 {
		fmt.Fprintf(w, "  %s\n", gray("(none)"))
		return
	}
	for _, issue := range issues {
		fmt.Fprintf(w, "  #%-5d %s %s\n", issue.ID, issue.Summary, gray(strings.Join(issue.Labels, ",")))
	}
}

func init() {
	exportCmd.Flags().StringVar(&exportLabel, "label", "", "only export issues carrying this label")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or yaml")
	importCmd.Flags().BoolVar(&importSync, "sync", false, "import in order and stop at the first failure")
	tableCmd.Flags().StringVar(&tableLabel, "label", "", "only show issues carrying this label")
	tableCmd.Flags().BoolVar(&tableClosed, "closed", false, "include closed issues")
	tableCmd.Flags().StringVar(&tableWhere, "where", "", "filter expression, e.g. 'priority <= 2'")

	rootCmd.AddCommand(exportCmd, importCmd, fixPriorityCmd, tableCmd)
}
