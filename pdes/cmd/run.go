package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/pdes/examples/ping"
	"github.com/sarchlab/pdes/partition"
	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/sim/serialization"
	"github.com/sarchlab/pdes/simulation"
	"github.com/sarchlab/pdes/timertree"
)

type runOptions struct {
	configFile string

	partitions  int
	lookahead   int64
	end         int64
	queueKind   string
	serialize   bool
	realTime    bool
	scale       float64
	monitor     bool
	port        int
	openBrowser bool
	trace       string
	tracePath   string
	logLevel    string
	logEvents   bool

	nodes    int
	pings    int
	interval int64
	latency  int64
	loose    bool
	verbose  bool
}

// runReport is printed when a run finishes.
type runReport struct {
	ID         string            `json:"id"`
	Now        sim.VTime         `json:"now"`
	Ping       ping.Summary      `json:"ping"`
	Partitions []partition.Stats `json:"partitions"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ping workload.",
		Long: "`run` places a ping agent on every node and has each agent " +
			"ping a node of the next partition. Interrupting the run ends " +
			"the simulation as soon as possible.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}

			level, _ := logrus.ParseLevel(cfg.LogLevel)
			logrus.SetLevel(level)

			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPing(ctx, cfg, opts.workload(cmd.ErrOrStderr()),
				cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "",
		"YAML configuration file.")
	f.IntVarP(&opts.partitions, "partitions", "p", 1,
		"Number of partitions.")
	f.Int64Var(&opts.lookahead, "lookahead", 1000,
		"Minimum cross-partition latency, in nanoseconds.")
	f.Int64Var(&opts.end, "end", 0,
		"End of the simulation, in nanoseconds. 0 runs until no event is left.")
	f.StringVar(&opts.queueKind, "queue", "splay",
		"Event queue implementation, splay or heap.")
	f.BoolVar(&opts.serialize, "serialize", false,
		"Serialize events that cross partitions.")
	f.BoolVar(&opts.realTime, "realtime", false,
		"Pace the simulation against the wall clock.")
	f.Float64Var(&opts.scale, "scale", 1,
		"Simulated seconds per wall-clock second when paced.")
	f.BoolVar(&opts.monitor, "monitor", false,
		"Start the monitoring server.")
	f.IntVar(&opts.port, "port", 0,
		"Port of the monitoring server. 0 picks a free port.")
	f.BoolVar(&opts.openBrowser, "open", false,
		"Open the monitoring dashboard in a browser.")
	f.StringVar(&opts.trace, "trace", "none",
		"Trace backend, none, csv, or sqlite.")
	f.StringVar(&opts.tracePath, "trace-path", "",
		"Trace file name without extension. Empty picks a unique name.")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level.")
	f.BoolVar(&opts.logEvents, "log-events", false,
		"Log every dispatched event at debug level.")

	f.IntVar(&opts.nodes, "nodes", 1, "Nodes per partition.")
	f.IntVar(&opts.pings, "pings", 10, "Pings sent by every agent.")
	f.Int64Var(&opts.interval, "interval", 100,
		"Time between two pings of an agent, in nanoseconds.")
	f.Int64Var(&opts.latency, "latency", 1000,
		"Message latency, in nanoseconds.")
	f.BoolVar(&opts.loose, "loose", false,
		"Deliver cross-partition messages as soon as possible.")
	f.BoolVarP(&opts.verbose, "verbose", "v", false,
		"Print every completed ping.")

	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

// config builds the configuration from the defaults, the config file, the
// environment, and the flags that were set, in this order.
func (o *runOptions) config(cmd *cobra.Command) (simulation.Config, error) {
	cfg := simulation.DefaultConfig()

	if o.configFile != "" {
		loaded, err := simulation.LoadConfig(o.configFile)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, errors.Wrap(err, "environment")
	}

	f := cmd.Flags()
	if f.Changed("partitions") {
		cfg.Partitions = o.partitions
	}
	if f.Changed("lookahead") {
		cfg.Lookahead = sim.VTime(o.lookahead)
	}
	if f.Changed("end") {
		cfg.MaxSimClock = sim.VTime(o.end)
	}
	if f.Changed("queue") {
		cfg.QueueKind = timertree.Kind(o.queueKind)
	}
	if f.Changed("serialize") {
		cfg.Serialize = o.serialize
	}
	if f.Changed("realtime") {
		cfg.RealTime.Enabled = o.realTime
	}
	if f.Changed("scale") {
		cfg.RealTime.Scale = o.scale
	}
	if f.Changed("monitor") {
		cfg.Monitoring.Enabled = o.monitor
	}
	if f.Changed("port") {
		cfg.Monitoring.Port = o.port
	}
	if f.Changed("open") {
		cfg.Monitoring.OpenBrowser = o.openBrowser
	}
	if f.Changed("trace") {
		cfg.Tracing.Backend = o.trace
	}
	if f.Changed("trace-path") {
		cfg.Tracing.Path = o.tracePath
	}
	if f.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if f.Changed("log-events") {
		cfg.Tracing.LogEvents = o.logEvents
	}

	return cfg, cfg.Validate()
}

func (o *runOptions) workload(verboseOut io.Writer) ping.WorkloadConfig {
	wl := ping.DefaultWorkloadConfig()
	wl.NodesPerPartition = o.nodes
	wl.Pings = o.pings
	wl.Interval = sim.VTime(o.interval)
	wl.Latency = sim.VTime(o.latency)

	if o.loose {
		wl.Mode = sim.ModeLoose
	}

	if o.verbose {
		wl.Output = verboseOut
	}

	return wl
}

func runPing(
	ctx context.Context,
	cfg simulation.Config,
	wl ping.WorkloadConfig,
	out io.Writer,
) error {
	if cfg.Partitions > 1 && wl.Latency < cfg.Lookahead {
		return errors.Errorf("latency %d is below the lookahead %d",
			wl.Latency, cfg.Lookahead)
	}

	topo, err := ping.NewTopology(cfg.Partitions, wl.NodesPerPartition)
	if err != nil {
		return err
	}

	types := serialization.NewTypeRegistry(serialization.NewJSONCodec())
	if err := ping.RegisterTypes(types); err != nil {
		return err
	}

	s, err := simulation.MakeBuilder().
		WithConfig(cfg).
		WithTopology(topo).
		WithTypeRegistry(types).
		Build()
	if err != nil {
		return err
	}
	defer s.Terminate()

	network := ping.Deploy(s, wl)

	if err := s.Run(ctx); err != nil {
		return err
	}

	report := runReport{
		ID:         s.ID(),
		Now:        s.Now(),
		Ping:       network.Summarize(),
		Partitions: s.Stats(),
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(report)
}
