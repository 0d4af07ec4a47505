package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"checkbp/belief"
	"checkbp/checkgraph"
	"checkbp/instance"
	"checkbp/internal/config"
	"checkbp/prof"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "checkbp",
		Short: "Belief propagation over noisy linear inequalities",
		Long: `checkbp recovers a small secret vector from inequalities of the form
<c, s> op v that an oracle answered, possibly wrongly. Each secret
coefficient is a variable node and each inequality a check node.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGenCmd(), newRunCmd(), newPriorCmd())
	return root
}

func addInstanceFlags(fs *pflag.FlagSet, p *instance.Params) {
	fs.IntVar(&p.N, "n", 0, "secret length, a power of two (default 64)")
	fs.Uint64Var(&p.Q, "q", 0, "modulus with q = 1 mod 2n (default 12289)")
	fs.IntVar(&p.Eta, "eta", 0, "centred binomial parameter (default 2)")
	fs.IntVar(&p.Inequalities, "inequalities", 0, "number of oracle answers (default 4n)")
	fs.IntVar(&p.Spread, "spread", 0, "max distance between threshold and true value")
	fs.Var(optionalFloat{&p.ChallengeSparsity}, "sparsity", "probability of a zero challenge coefficient, 0 for dense challenges (default 1/3)")
	fs.Float64Var(&p.FlipRate, "flip-rate", 0, "probability that an oracle answer is wrong")
	fs.StringVar(&p.Seed, "seed", "", "instance generator seed")
}

// optionalFloat is a float flag that stays nil until it is set.
type optionalFloat struct{ p **float64 }

func (o optionalFloat) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.FormatFloat(**o.p, 'g', -1, 64)
}

func (o optionalFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}

func (o optionalFloat) Type() string { return "float64" }

func newGenCmd() *cobra.Command {
	var (
		p   instance.Params
		out string
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate an instance and write it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.ApplyDefaults()
			if err := p.Validate(); err != nil {
				return err
			}
			inst, err := instance.Generate(p)
			if err != nil {
				return err
			}
			if err := instance.Save(out, inst); err != nil {
				return err
			}
			flipped := 0
			for _, q := range inst.Inequalities {
				if q.Flipped {
					flipped++
				}
			}
			log.Printf("[checkbp] wrote %s: n=%d eta=%d, %d inequalities (%d flipped)",
				out, p.N, p.Eta, len(inst.Inequalities), flipped)
			return nil
		},
	}
	addInstanceFlags(cmd.Flags(), &p)
	cmd.Flags().StringVarP(&out, "out", "o", "instance.json", "output path")
	return cmd
}

func newPriorCmd() *cobra.Command {
	var eta int
	cmd := &cobra.Command{
		Use:   "prior",
		Short: "Print the centred binomial prior",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eta < 1 || eta > 8 {
				return fmt.Errorf("eta=%d out of range 1..8", eta)
			}
			prior := instance.BinomialPrior(eta)
			w := cmd.OutOrStdout()
			for v := -eta; v <= eta; v++ {
				fmt.Fprintf(w, "%3d  %.6f\n", v, prior[v])
			}
			fmt.Fprintf(w, "entropy %.4f bits\n", belief.Entropy(prior))
			return nil
		},
	}
	cmd.Flags().IntVar(&eta, "eta", 2, "centred binomial parameter")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		flags      config.Run
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Recover a secret with belief propagation",
		Long: `run loads (or generates) an instance, builds its factor graph and
alternates propagation with read-out until the secret is recovered or
progress stops. Flags override values from --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveRun(configPath, cmd.Flags(), flags)
			if err != nil {
				return err
			}
			rep, err := execute(cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !rep.Success {
				log.Printf("[checkbp] run %s: no recovery after %d rounds (best %d correct)",
					rep.RunID, len(rep.Rounds), rep.BestCorrect)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&configPath, "config", "c", "", "YAML or JSON run configuration")
	fs.StringVar(&flags.InstancePath, "instance", "", "saved instance; generated from the instance flags when empty")
	addInstanceFlags(fs, &flags.Instance)
	fs.IntVar(&flags.Iterations, "iterations", 0, "max propagate/read-out rounds (default 20)")
	fs.IntVar(&flags.StepsPerIteration, "steps", 0, "propagation steps per round (default 2)")
	fs.IntVarP(&flags.Threads, "threads", "t", 0, "worker threads (default 1)")
	fs.IntVar(&flags.NoImproveAbort, "no-improve-abort", 0, "rounds without progress before giving up (default 5)")
	fs.BoolVar(&flags.RequireAll, "require-all", false, "only succeed once every coefficient is right")
	fs.IntVar(&flags.TransformLength, "transform-length", 0, "check node transform length (default: smallest that fits)")
	fs.BoolVar(&flags.CheckValidity, "check-validity", false, "fail on NaN or infinite messages")
	fs.StringVar(&flags.ChartPath, "chart", "", "write an HTML chart of the rounds")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

// resolveRun merges the configuration file, if any, with the flags given on
// the command line.
func resolveRun(path string, fs *pflag.FlagSet, flags config.Run) (config.Run, error) {
	if path == "" {
		flags.ApplyDefaults()
		return flags, flags.Validate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "instance":
			cfg.InstancePath = flags.InstancePath
		case "n":
			cfg.Instance.N = flags.Instance.N
		case "q":
			cfg.Instance.Q = flags.Instance.Q
		case "eta":
			cfg.Instance.Eta = flags.Instance.Eta
		case "inequalities":
			cfg.Instance.Inequalities = flags.Instance.Inequalities
		case "spread":
			cfg.Instance.Spread = flags.Instance.Spread
		case "sparsity":
			cfg.Instance.ChallengeSparsity = flags.Instance.ChallengeSparsity
		case "flip-rate":
			cfg.Instance.FlipRate = flags.Instance.FlipRate
		case "seed":
			cfg.Instance.Seed = flags.Instance.Seed
		case "iterations":
			cfg.Iterations = flags.Iterations
		case "steps":
			cfg.StepsPerIteration = flags.StepsPerIteration
		case "threads":
			cfg.Threads = flags.Threads
		case "no-improve-abort":
			cfg.NoImproveAbort = flags.NoImproveAbort
		case "require-all":
			cfg.RequireAll = flags.RequireAll
		case "transform-length":
			cfg.TransformLength = flags.TransformLength
		case "check-validity":
			cfg.CheckValidity = flags.CheckValidity
		case "chart":
			cfg.ChartPath = flags.ChartPath
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		}
	})
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func loadInstance(cfg config.Run) (*instance.Instance, error) {
	if cfg.InstancePath != "" {
		return instance.Load(cfg.InstancePath)
	}
	return instance.Generate(cfg.Instance)
}

// execute performs one recovery run and writes the round table and timings
// to out.
func execute(cfg config.Run, out io.Writer) (checkgraph.Report, error) {
	var rep checkgraph.Report
	inst, err := loadInstance(cfg)
	if err != nil {
		return rep, err
	}
	g, err := instance.BuildGraph(inst, cfg.TransformLength)
	if err != nil {
		return rep, err
	}
	g.SetCheckValidity(cfg.CheckValidity)

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr)
		if err != nil {
			return rep, err
		}
		defer stop()
	}

	prof.SnapshotAndReset()
	rep, err = g.Recover(inst.Secret, cfg.RecoverOptions())
	if err != nil {
		return rep, err
	}
	printRounds(out, rep)
	printTimings(out, prof.Aggregate(prof.SnapshotAndReset()))

	if cfg.ChartPath != "" {
		if err := writeChart(cfg.ChartPath, rep); err != nil {
			return rep, fmt.Errorf("chart: %w", err)
		}
		log.Printf("[checkbp] chart written to %s", cfg.ChartPath)
	}
	return rep, nil
}

// serveMetrics exposes /metrics on addr until the returned stop is called.
func serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[checkbp] metrics server: %v", err)
		}
	}()
	log.Printf("[checkbp] serving metrics on http://%s/metrics", ln.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printRounds(out io.Writer, rep checkgraph.Report) {
	fmt.Fprintf(out, "run %s\n", rep.RunID)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "round\tcorrect\tavg p\tavg rank\tmean H\tmax H\tsorted p\tsorted H\ttime\t")
	for _, r := range rep.Rounds {
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%.3f\t%.4f\t%.4f\t%d\t%d\t%s\t\n",
			r.Iteration, r.Correct, r.AvgProb, r.AvgRank, r.MeanEntropy, r.MaxEntropy,
			r.SortedCorrectProb, r.SortedCorrectEntropy, r.Duration.Round(time.Microsecond))
	}
	tw.Flush()
	fmt.Fprintf(out, "success=%v best confident prefix=%d of %d\n", rep.Success, rep.BestCorrect, len(rep.Guess))
}

func printTimings(out io.Writer, stats []prof.Stat) {
	if len(stats) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "stage\tcalls\ttotal\tmean")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Label, s.Count, s.Total.Round(time.Microsecond), s.Mean().Round(time.Microsecond))
	}
	tw.Flush()
}
