// Package console implements the interactive SQL console for inspecting
// an execledger database. It runs as a go-prompt REPL when stdin is a
// terminal and falls back to plain line mode when input is piped. The
// database is opened read-only so inspection never interferes with a
// running daemon.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/monitor"
	"github.com/execledger/execledger/internal/store"
)

// Console is a read-only SQL shell over one database file.
type Console struct {
	store   *store.Store
	monitor *monitor.Monitor

	out io.Writer
}

// New opens the database read-only and builds the console.
func New(dbPath string, monitorCfg config.MonitorConfig) (*Console, error) {
	st, err := store.New(store.Config{
		Path:     dbPath,
		ReadOnly: true,
		MaxRows:  monitorCfg.MaxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	mon, err := monitor.New(monitorCfg, st, nil)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &Console{
		store:   st,
		monitor: mon,
		out:     os.Stdout,
	}, nil
}

// Close releases the underlying store.
func (c *Console) Close() error {
	c.monitor.Close()
	return c.store.Close()
}

// Run starts the console: an interactive REPL on a terminal, line mode
// otherwise.
func (c *Console) Run() error {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		c.runInteractive()
		return nil
	}
	return c.runLines(os.Stdin)
}

// runInteractive is the go-prompt REPL. The executor never returns an
// error; failures are printed and the loop continues.
func (c *Console) runInteractive() {
	fmt.Fprintf(c.out, "execledger console - %s\n", c.store.Path())
	fmt.Fprintln(c.out, `Enter SQL, or ".help" for commands.`)

	p := prompt.New(
		func(line string) { c.execute(line) },
		c.complete,
		prompt.OptionPrefix("execledger> "),
		prompt.OptionTitle("execledger"),
	)
	p.Run()
}

// runLines reads statements one per line, for piped input.
func (c *Console) runLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		c.execute(scanner.Text())
	}
	return scanner.Err()
}

// execute dispatches one input line: dot command or SQL.
func (c *Console) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if strings.HasPrefix(line, ".") {
		c.dotCommand(line)
		return
	}

	c.runSQL(line)
}

func (c *Console) dotCommand(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".help":
		c.printHelp()
	case ".tables":
		c.runSQL("SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name")
	case ".schema":
		table := "executions"
		if len(fields) > 1 {
			table = fields[1]
		}
		c.runSQL(fmt.Sprintf(
			"SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = '%s' ORDER BY ordinal_position",
			strings.ReplaceAll(table, "'", "''")))
	case ".status":
		c.printStatus()
	case ".quit", ".exit":
		c.Close()
		os.Exit(0)
	default:
		fmt.Fprintf(c.out, "unknown command %s (try .help)\n", fields[0])
	}
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  .tables          list tables
  .schema [table]  show columns (default: executions)
  .status          database status document
  .help            this help
  .quit            exit

Anything else is executed as SQL against the read-only database.
`)
}

func (c *Console) printStatus() {
	status, err := c.monitor.DatabaseStatus(context.Background())
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, string(data))
}

// runSQL executes one statement and renders the result as a table.
func (c *Console) runSQL(query string) {
	result, err := c.store.ExecuteSQL(context.Background(), query)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}

	if len(result.Rows) == 0 {
		fmt.Fprintf(c.out, "no rows (%.1fms)\n", result.Elapsed.Seconds()*1000)
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.SetHeader(result.Columns)
	table.SetAutoFormatHeaders(false)

	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			cells[i] = formatCell(row[col])
		}
		table.Append(cells)
	}
	table.Render()

	suffix := ""
	if result.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(c.out, "%d rows%s (%.1fms)\n",
		len(result.Rows), suffix, result.Elapsed.Seconds()*1000)
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("%g", val)
	case string:
		if runes := []rune(val); len(runes) > 60 {
			return string(runes[:57]) + "..."
		}
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Dot commands and common query starters offered by the completer.
var completions = []prompt.Suggest{
	{Text: ".tables", Description: "list tables"},
	{Text: ".schema", Description: "show table columns"},
	{Text: ".status", Description: "database status"},
	{Text: ".help", Description: "show help"},
	{Text: ".quit", Description: "exit"},
	{Text: "SELECT", Description: ""},
	{Text: "FROM", Description: ""},
	{Text: "WHERE", Description: ""},
	{Text: "GROUP BY", Description: ""},
	{Text: "ORDER BY", Description: ""},
	{Text: "LIMIT", Description: ""},
	{Text: "executions", Description: "telemetry table"},
	{Text: "schema_state", Description: "migration state"},
}

func (c *Console) complete(d prompt.Document) []prompt.Suggest {
	word := d.GetWordBeforeCursor()
	if word == "" {
		return nil
	}
	return prompt.FilterHasPrefix(completions, word, true)
}
