package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/repository"
)

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.opts.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes rows under header, or JSON of v when --json is set.
func (e *env) printTable(v any, header []string, rows [][]string) error {
	if e.asJSON {
		return e.printJSON(v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(e.opts.Out, "nothing to show")
		return err
	}
	tw := tabwriter.NewWriter(e.opts.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func (e *env) printWrite(verb string, res repository.WriteResult) error {
	if e.asJSON {
		return e.printJSON(res)
	}
	if res.Queued {
		_, err := fmt.Fprintf(e.opts.Out, "%s %s (offline, will sync when the backend is reachable)\n", verb, res.ID)
		return err
	}
	_, err := fmt.Fprintf(e.opts.Out, "%s %s\n", verb, res.ID)
	return err
}

func (e *env) printf(format string, args ...any) {
	fmt.Fprintf(e.opts.Out, format, args...)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func parseTime(flag, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, failure.Validation(fmt.Sprintf("--%s must be an RFC 3339 time such as 2026-05-01T18:00:00Z.", flag))
	}
	return t, nil
}
