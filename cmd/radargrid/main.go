// Command radargrid converts dated trees of radar volume scans into per-scan
// maximum-reflectivity grids.
//
// Usage:
//
//	radargrid run --source /data/radar --dest /data/grids
//	radargrid convert KTLX20110109_184500.uf out.npz
//	radargrid inspect /data/grids/01/09/KTLX20110109_184500.npz
//	radargrid anomalies --kind geometry_fallback
//	radargrid validate --source /data/radar --dest /data/grids
//	radargrid synth /tmp/radar --days 2 --files 3
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
