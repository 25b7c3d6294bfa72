package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rtsync/internal/labs"
)

type labInfo struct {
	Name     string      `json:"name" yaml:"name"`
	Summary  string      `json:"summary" yaml:"summary"`
	Params   labs.Params `json:"params" yaml:"params"`
	Disabled bool        `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

var labsCmd = &cobra.Command{
	Use:   "labs",
	Short: "List the available labs and their effective parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatValue, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		format, err := readFormat(formatValue)
		if err != nil {
			return err
		}
		m, err := loadManifest(cmd)
		if err != nil {
			return err
		}

		env := &labs.Env{Manifest: m}
		var infos []labInfo
		for _, lab := range labs.All() {
			cfg, _ := m.Lab(lab.Name)
			infos = append(infos, labInfo{
				Name:     lab.Name,
				Summary:  lab.Summary,
				Params:   lab.Params(env),
				Disabled: cfg.Disabled,
			})
		}
		if format != formatText {
			return encode(cmd.OutOrStdout(), format, infos)
		}

		out := cmd.OutOrStdout()
		width := 0
		for _, info := range infos {
			width = max(width, len(info.Name))
		}
		indent := strings.Repeat(" ", width+2)
		for _, info := range infos {
			pad := strings.Repeat(" ", width-len(info.Name)+2)
			if info.Disabled {
				fmt.Fprintf(out, "%s%s%s\n", mutedColor.Sprint(info.Name), pad, mutedColor.Sprint(info.Summary+" (disabled)"))
			} else {
				fmt.Fprintf(out, "%s%s%s\n", labColor.Sprint(info.Name), pad, info.Summary)
			}
			fmt.Fprintf(out, "%s%s\n", indent, mutedColor.Sprint(formatParams(info.Params)))
		}
		return nil
	},
}

func init() {
	labsCmd.Flags().String("format", "text", "output format (text|json|yaml)")
}
