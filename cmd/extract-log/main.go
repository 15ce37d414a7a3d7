package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"WebdevReplay/internal/extract"
	"WebdevReplay/internal/logger"
)

var (
	outDir   string
	useUTC   bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "extract-log <begin YYMMDD> <end YYMMDD> <file...>",
	Short: "Keep the last log line of every session within a date window",
	Long: `extract-log reads webdev exercise log files and writes, for every input file,
<name>_<begin>-<end>.log holding the last line of each session whose timestamp
falls between 00:00 of <begin> and the end of <end>.`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 3 {
			return cmd.Usage()
		}
		if err := logger.Init(logLevel, "console"); err != nil {
			return err
		}
		defer logger.Sync()

		loc := time.Local
		if useUTC {
			loc = time.UTC
		}
		w, err := extract.ParseWindow(args[0], args[1], loc)
		if err != nil {
			return err
		}

		var errs []error
		for _, path := range args[2:] {
			res, err := extract.File(path, outDir, w)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d lines)\n", res.Input, res.Output, res.Lines)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&outDir, "out-dir", "o", ".", "directory for the extracted files")
	rootCmd.Flags().BoolVar(&useUTC, "utc", false, "interpret dates in UTC instead of local time")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
