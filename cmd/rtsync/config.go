package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rtsync/internal/manifest"
)

// loadManifest reads --config, or the nearest manifest above the working
// directory. A missing manifest is not an error; nil is returned instead.
func loadManifest(cmd *cobra.Command) (*manifest.Manifest, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		found, ok, err := manifest.Find(wd)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		path = found
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m, nil
}

func reportDir(m *manifest.Manifest) string {
	if m == nil {
		return ""
	}
	return m.Run.ReportDir
}
