// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zcache-sim/cachesim/internal/cachearray"
	"github.com/zcache-sim/cachesim/internal/cachesim"
	"github.com/zcache-sim/cachesim/internal/config"
	"github.com/zcache-sim/cachesim/internal/trace"
	"github.com/zcache-sim/cachesim/lib/profile"
	"github.com/zcache-sim/cachesim/lib/textui"
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	logLevelFlag := logLevelFlag{Level: logrus.InfoLevel}
	var configFlag string

	argparser := &cobra.Command{
		Use:   "cachesim {[flags]|SUBCOMMAND}",
		Short: "Replay a memory access trace against a cache array and report hit/miss statistics",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{ //nolint:exhaustivestruct
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single array configuration against its trace and print final statistics",
		Args:  cobra.NoArgs,
	}
	runCmd.Flags().StringVar(&configFlag, "config", "", "path to the array/trace YAML `config`")
	if err := runCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	stopProfiling := profile.AddProfileFlags(runCmd.Flags(), "profile-")
	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := logrus.New()
		logger.SetLevel(logLevelFlag.Level)
		ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})
		grp.Go("main", func(ctx context.Context) error {
			return runOne(ctx, configFlag)
		})
		err := grp.Wait()
		if stopErr := stopProfiling(); stopErr != nil && err == nil {
			err = stopErr
		}
		return err
	}
	argparser.AddCommand(runCmd)

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}

func runOne(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	arr, err := cachesim.Build(&cfg.Array)
	if err != nil {
		return err
	}

	f, err := os.Open(cfg.Trace)
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := cachesim.Run(ctx, arr, trace.NewReader(f))
	if err != nil {
		return err
	}

	total := stats.Hits + stats.Misses
	var rate float64
	if total > 0 {
		rate = float64(stats.Hits) / float64(total) * 100
	}
	dlog.Infof(ctx, "final: accesses=%d hits=%d misses=%d hitrate=%.2f%% swaps=%d bypasses=%d freed=%d",
		total, stats.Hits, stats.Misses, rate, stats.Swaps, stats.PartitionedBypass, stats.SparseDataFreed)
	if p, ok := arr.(*cachearray.ZArrayPartitioned); ok {
		dlog.Infof(ctx, "domains seen: %v", p.SortedDomains())
	}
	return nil
}
