package main

import (
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "gnssmux",
		Short: "Split GNSS receiver byte streams into NMEA, UBX and RTCM messages",
		Long: `gnssmux frames the mixed output of a GNSS receiver into NMEA 0183
sentences, u-blox UBX frames and RTCM 3 frames, verifies their checksums and
keeps per-message statistics.

  run    read the streams listed in the config file and serve status/metrics
  split  analyze a recorded file and print a message report`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "gnssmux.yaml", "config file path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the log level (trace, debug, info, warn, error)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newSplitCmd(opts))
	return root
}
