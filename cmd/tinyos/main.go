// The tinyos command boots a kernel and runs one of a set of demo
// programs as its init process.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/npapoutsakis/tinyos3/config"
	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/kernel"
)

var (
	cfgFile     string
	overrides   []string
	debugLabels string
	showMetrics bool
	nchild      int
)

var rootCmd = &cobra.Command{
	Use:   "tinyos",
	Short: "tinyos - a simulated kernel with processes, threads, pipes, and sockets",
	Long: `tinyos boots a single-image kernel whose processes and threads run as
goroutines, and runs a demo program as its init process.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:       "run <demo>",
	Short:     "Boot the kernel and run a demo as init",
	Long:      "Boot the kernel and run a demo as init. Demos: " + strings.Join(demoNames(), ", "),
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: demoNames(),
	RunE:      runDemo,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective kernel configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $"+config.TINYOSCONFIG+")")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "override a config key, e.g. --set maxproc=64")
	rootCmd.PersistentFlags().StringVar(&debugLabels, "debug", "", "debug labels, e.g. PROC;PIPE")
	runCmd.Flags().BoolVar(&showMetrics, "metrics", false, "print kernel metrics after init exits")
	runCmd.Flags().IntVarP(&nchild, "children", "n", 4, "number of children for the fork demo")
	rootCmd.AddCommand(runCmd, configCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	if debugLabels != "" {
		cfg.Debug = debugLabels
	}
	return cfg, cfg.Validate()
}

func runDemo(cmd *cobra.Command, args []string) error {
	demo, ok := demos[args[0]]
	if !ok {
		return fmt.Errorf("unknown demo %q", args[0])
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	k, err := kernel.NewKernel(cfg)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	db.DPrintf(db.CLI, "run %v with %v", args[0], cfg)
	status, err := k.Boot(demo(out), nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "init exited with status %d\n", status)
	if showMetrics {
		if err := printMetrics(out, k.Metrics()); err != nil {
			return err
		}
	}
	if status != 0 {
		return fmt.Errorf("demo %v failed: status %d", args[0], status)
	}
	return nil
}

func printMetrics(w io.Writer, m *kernel.Metrics) error {
	mfs, err := m.Registry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		for _, mt := range mf.GetMetric() {
			v := mt.GetCounter().GetValue()
			if g := mt.GetGauge(); g != nil {
				v = g.GetValue()
			}
			fmt.Fprintf(w, "%-40s %v\n", mf.GetName(), v)
		}
	}
	return nil
}

func demoNames() []string {
	names := make([]string, 0, len(demos))
	for n := range demos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
