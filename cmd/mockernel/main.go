// Command mockernel runs the built-in benchmark problems to convergence
// and reports the multiplication factor.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notargets/MOCKernel/cmfd"
	"github.com/notargets/MOCKernel/geometry"
	"github.com/notargets/MOCKernel/solver"
	"github.com/notargets/MOCKernel/tracker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mockernel",
		Short:         "Method-of-characteristics neutron transport solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark case to convergence",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config %s: %w", cfgFile, err)
				}
			}
			return run(v)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file overriding the flags")
	cmd.Flags().String("case", "homogeneous-one-group", "benchmark case: homogeneous-one-group | pin-cell")
	cmd.Flags().Int("num-azim", 32, "azimuthal angle count over [0, 2pi), multiple of 4")
	cmd.Flags().Float64("spacing", 0.1, "requested track spacing [cm]")
	cmd.Flags().Int("threads", 0, "sweep worker count, 0 for one per CPU")
	cmd.Flags().Float64("tolerance", 1e-5, "source residual convergence tolerance")
	cmd.Flags().Int("max-iters", 1000, "source iteration cap")
	cmd.Flags().Bool("cmfd", false, "enable coarse-mesh finite-difference acceleration")
	cmd.Flags().Int("cmfd-nx", 1, "coarse mesh cells in x")
	cmd.Flags().Int("cmfd-ny", 1, "coarse mesh cells in y")
	cmd.Flags().Float64("cmfd-relax", 1.0, "CMFD correction under-relaxation in (0, 1]")
	cmd.Flags().Bool("verbose", false, "per-iteration debug logging")
	return cmd
}

func run(v *viper.Viper) error {
	logger, err := buildLogger(v.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	caseName := v.GetString("case")
	geom, err := buildCase(caseName)
	if err != nil {
		return err
	}
	numFSRs, err := geom.Finalize()
	if err != nil {
		return err
	}
	logger.Info("geometry finalized", zap.String("case", caseName), zap.Int("fsrs", numFSRs))

	gen, err := tracker.NewGenerator(geom, v.GetInt("num-azim"), v.GetFloat64("spacing"))
	if err != nil {
		return err
	}
	var accel *cmfd.Accelerator
	if v.GetBool("cmfd") {
		mesh, err := geometry.NewUniformMesh(geom, v.GetInt("cmfd-nx"), v.GetInt("cmfd-ny"))
		if err != nil {
			return err
		}
		gen.SetMesh(mesh)
	}

	start := time.Now()
	if err := gen.Generate(); err != nil {
		return err
	}
	logger.Info("tracks generated",
		zap.Int("tracks", gen.NumTracks()),
		zap.Duration("elapsed", time.Since(start)),
	)

	if v.GetBool("cmfd") {
		accel, err = cmfd.New(gen, v.GetFloat64("cmfd-relax"))
		if err != nil {
			return err
		}
	}

	s, err := solver.New(gen, solver.Config{
		Workers:     v.GetInt("threads"),
		Tolerance:   v.GetFloat64("tolerance"),
		Accelerator: accel,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	start = time.Now()
	res, err := s.Converge(v.GetInt("max-iters"))
	if err != nil {
		return err
	}
	if res.Status == solver.StatusMaxIterations {
		logger.Warn("iteration cap reached before convergence",
			zap.Int("iterations", res.Iterations),
			zap.Float64("residual", res.Residual),
		)
	}
	logger.Info("solve finished",
		zap.String("case", caseName),
		zap.Float64("keff", res.Keff),
		zap.Int("iterations", res.Iterations),
		zap.Float64("residual", res.Residual),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
