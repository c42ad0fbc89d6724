package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	v1 "startd/shared/contracts/rpc/v1"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeSessionTable renders one row per session, ordered by id. The caller's
// own session is marked with "*".
func writeSessionTable(w io.Writer, list v1.SessionList) error {
	ids := make([]string, 0, len(list.Sessions))
	for id := range list.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tLOGGED IN\tLAST ACTIVE\tUSER AGENT\tMETADATA")
	for _, id := range ids {
		s := list.Sessions[id]

		mark := ""
		if id == list.Current {
			mark = "*"
		}
		ua := "N/A"
		if s.UserAgent != nil && *s.UserAgent != "" {
			ua = *s.UserAgent
		}
		meta := string(s.Metadata)
		if meta == "" {
			meta = "null"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			mark, id, formatTime(s.LoggedIn), formatTime(s.LastActive), ua, meta)
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
