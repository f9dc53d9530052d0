package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/timzifer/voltseq/config"
	"github.com/timzifer/voltseq/internal/logging"
	"github.com/timzifer/voltseq/pulse"
	"github.com/timzifer/voltseq/sequence"
	"github.com/timzifer/voltseq/telemetry"
	"github.com/timzifer/voltseq/value"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	points := flag.String("points", "", "Comma separated point names to replay")
	rampDuration := flag.Int64("ramp-duration", 0, "Ramp duration in nanoseconds for the replay (0 steps)")
	compensate := flag.Float64("compensate", 0, "Apply a compensation pulse bounded by this voltage after the replay")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg))
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector := telemetry.Collector(telemetry.Noop())
	if cfg.Telemetry.Enabled {
		prom, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry disabled")
		} else {
			collector = prom
		}
	}

	gateSet, err := cfg.GateSet.Build()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build gate set")
	}

	recorder := pulse.NewRecorder()
	seq, err := sequence.New(gateSet, recorder,
		sequence.WithLogger(logger),
		sequence.WithCollector(collector))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create sequence")
	}

	for _, name := range splitPoints(*points) {
		if *rampDuration > 0 {
			err = seq.RampToPoint(name, value.Concrete(float64(*rampDuration)), nil)
		} else {
			err = seq.StepToPoint(name, nil)
		}
		if err != nil {
			logger.Fatal().Err(err).Str("point", name).Msg("replay failed")
		}
	}

	if *compensate > 0 {
		if err := seq.ApplyCompensationPulse(*compensate); err != nil {
			logger.Fatal().Err(err).Msg("compensation failed")
		}
	}

	fmt.Print(recorder.Dump())
}

func splitPoints(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func executeConfigCheck(cfg *config.Config) int {
	set, err := cfg.GateSet.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return 1
	}

	fmt.Printf("Gate set %q\n", set.ID())
	fmt.Printf("  Channels: %s\n", strings.Join(channelNames(cfg), ", "))
	fmt.Printf("  Layers: %d\n", len(cfg.GateSet.Layers))
	if names := set.PointNames(); len(names) > 0 {
		fmt.Printf("  Points: %s\n", strings.Join(names, ", "))
	} else {
		fmt.Println("  Points: <none>")
	}
	fmt.Println("Configuration check completed successfully.")
	return 0
}

func channelNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.GateSet.Channels))
	for name := range cfg.GateSet.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
