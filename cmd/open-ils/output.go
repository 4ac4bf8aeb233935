package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/open-sspm/open-ils/internal/connectors/registry"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeBackends(w io.Writer, states []registry.BackendState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDEFAULT\tSTATUS\tOPERATIONS")
	for i := range states {
		s := &states[i]
		def := ""
		if s.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Backend.Name,
			s.DisplayName(),
			def,
			s.StatusLabel(),
			strings.TrimSpace(s.CapabilitySummary()),
		)
	}
	return tw.Flush()
}
