package project

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Report is the document written by WriteReport for yaml and json.
type Report struct {
	Manifest  string   `yaml:"manifest" json:"manifest"`
	Extracted int      `yaml:"extracted" json:"extracted"`
	Failed    int      `yaml:"failed" json:"failed"`
	Results   []Result `yaml:"results" json:"results"`
}

// NewReport summarizes batch results.
func NewReport(m *Manifest, results []Result) *Report {
	rep := &Report{Manifest: m.Path(), Results: results}
	for _, r := range results {
		if r.OK() {
			rep.Extracted++
		} else {
			rep.Failed++
		}
	}
	return rep
}

// WriteReport renders the report as text, yaml or json.
func WriteReport(w io.Writer, format string, rep *Report) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()

	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)

	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CANISTER\tSTATUS\tBYTES\tDETAIL")
		for _, r := range rep.Results {
			status, detail := "ok", r.Output
			if !r.OK() {
				status, detail = "failed", r.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Name, status, r.Bytes, detail)
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
