package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"rtsync/internal/labs"
)

var (
	passColor  = color.New(color.FgGreen, color.Bold)
	failColor  = color.New(color.FgRed, color.Bold)
	labColor   = color.New(color.FgCyan, color.Bold)
	mutedColor = color.New(color.Faint)
)

type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func readFormat(value string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(value))); f {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q (must be text, json or yaml)", value)
	}
}

// encode writes v as JSON or YAML.
func encode(out io.Writer, format outputFormat, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %s is not structured", format)
	}
}

// printReport renders one lab report for humans.
func printReport(out io.Writer, rep *labs.Report, withTimings bool) {
	status := passColor.Sprint("PASS")
	if rep.Err != "" {
		status = failColor.Sprint("FAIL")
	}
	fmt.Fprintf(out, "%s %s %s\n", status, labColor.Sprint(rep.Lab), mutedColor.Sprintf("(%s)", rep.Elapsed.Round(time.Millisecond)))
	if rep.Err != "" {
		fmt.Fprintf(out, "  error: %s\n", rep.Err)
	}
	fmt.Fprintf(out, "  params: %s\n", formatParams(rep.Params))

	names := rep.CounterNames()
	width := 0
	for _, name := range names {
		width = max(width, len(name))
	}
	for _, name := range names {
		fmt.Fprintf(out, "  %-*s %d\n", width, name, rep.Counters[name])
	}
	if rep.Latency.Count > 0 {
		fmt.Fprintf(out, "  latency: %s\n", rep.Latency)
	}
	if withTimings {
		printStageTimings(out, rep)
	}
}

func formatParams(p labs.Params) string {
	parts := []string{"duration=" + p.Duration.String(), "period=" + p.Period.String()}
	for _, kv := range []struct {
		name string
		v    int
	}{
		{"capacity", p.Capacity},
		{"producers", p.Producers},
		{"consumers", p.Consumers},
		{"max_count", p.MaxCount},
	} {
		if kv.v != 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", kv.name, kv.v))
		}
	}
	return strings.Join(parts, " ")
}
