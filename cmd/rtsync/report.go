package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rtsync/internal/labs"
	"rtsync/internal/reportstore"
)

var reportCmd = &cobra.Command{
	Use:   "report [lab...]",
	Short: "Show the last stored report of each lab",
	Long:  `Show stored reports. Without arguments every stored report is shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatValue, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		format, err := readFormat(formatValue)
		if err != nil {
			return err
		}
		dropAll, err := cmd.Flags().GetBool("clear")
		if err != nil {
			return err
		}
		withTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
		if err != nil {
			return err
		}
		m, err := loadManifest(cmd)
		if err != nil {
			return err
		}
		store, err := reportstore.Open(reportDir(m))
		if err != nil {
			return err
		}
		if dropAll {
			return store.DropAll()
		}

		names := args
		if len(names) == 0 {
			if names, err = store.List(); err != nil {
				return err
			}
		}
		var reports []*labs.Report
		for _, name := range names {
			if _, known := labs.Lookup(name); !known {
				return fmt.Errorf("unknown lab %q", name)
			}
			entry, ok, err := store.Load(name)
			if err != nil {
				return err
			}
			if !ok {
				if len(args) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "no stored report for %s\n", name)
				}
				continue
			}
			reports = append(reports, entry.Report)
		}
		if format != formatText {
			return encode(cmd.OutOrStdout(), format, reports)
		}
		if len(reports) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no reports in %s\n", store.Dir())
			return nil
		}
		for _, rep := range reports {
			printReport(cmd.OutOrStdout(), rep, withTimings)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().String("format", "text", "output format (text|json|yaml)")
	reportCmd.Flags().Bool("clear", false, "delete every stored report")
}
