package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/banshee-data/dactune/internal/analyzer"
	"github.com/banshee-data/dactune/internal/config"
	"github.com/banshee-data/dactune/internal/controller"
	"github.com/banshee-data/dactune/internal/dac"
	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/scpi"
	"github.com/banshee-data/dactune/internal/sim"
	"github.com/banshee-data/dactune/internal/store"
	"github.com/banshee-data/dactune/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to session config JSON (defaults apply when empty)")
	devMode     = flag.Bool("dev", false, "Run against the simulated sensor bench instead of hardware")
	resultsDir  = flag.String("results", "", "Directory for result files (overrides results_dir)")
	noCatalog   = flag.Bool("no-catalog", false, "Do not record runs in the SQLite catalog")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() (*config.SessionConfig, error) {
	cfg := config.EmptySessionConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadSessionConfig(*configFile); err != nil {
			return nil, err
		}
	}
	if *resultsDir != "" {
		dir := *resultsDir
		cfg.ResultsDir = &dir
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := fsutil.OSFileSystem{}
	if err := fs.MkdirAll(cfg.GetResultsDir(), 0o755); err != nil {
		log.Fatalf("failed to create results dir: %v", err)
	}

	var catalog *store.Catalog
	if !*noCatalog {
		catalog, err = store.OpenCatalog(filepath.Join(cfg.GetResultsDir(), store.CatalogFile))
		if err != nil {
			log.Printf("run catalog disabled: %v", err)
		} else {
			defer catalog.Close()
		}
	}

	format, err := analyzer.ParseDataFormat(cfg.GetDataFormat())
	if err != nil {
		log.Fatalf("invalid data format: %v", err)
	}
	opts := analyzer.Options{Format: format, Timeout: cfg.GetAnalyzerTimeout()}

	sess := &controller.Session{
		Config:   cfg,
		FS:       fs,
		Catalog:  catalog,
		Operator: controller.NewConsole(os.Stdin, os.Stdout),
	}
	if *devMode {
		bench := sim.New(sim.DefaultSensor, uint64(time.Now().UnixNano()))
		log.Printf("dev mode: simulated bench, resonance %.0f-%.0f Hz",
			bench.Sensor().Resonance(cfg.GetStartCode()), bench.Sensor().Resonance(cfg.GetStopCode()))
		sess.OpenDAC = func() (controller.DAC, error) {
			return dac.NewSession(cfg.GetDACBoard(), cfg.GetDACChip(), bench, nil)
		}
		sess.OpenAnalyzer = func(ctx context.Context) (controller.Analyzer, error) {
			return analyzer.Open(ctx, bench.Dialer(), "tcp://sim:5025", opts)
		}
	} else {
		sess.OpenDAC = func() (controller.DAC, error) {
			return dac.Connect(cfg.GetDACBoard(), cfg.GetDACChip(), cfg.GetDACPort(),
				dac.WithSpeed(physic.Frequency(cfg.GetDACSpeedHz())*physic.Hertz))
		}
		sess.OpenAnalyzer = func(ctx context.Context) (controller.Analyzer, error) {
			return analyzer.Open(ctx, scpi.SystemDialer{}, cfg.GetAnalyzerAddress(), opts)
		}
	}

	start := time.Now()
	sum, err := sess.Run(ctx)
	if err != nil {
		log.Printf("session failed after %d iteration(s): %+v", sum.Iterations, err)
		if catalog != nil {
			catalog.Close()
		}
		stop()
		os.Exit(1)
	}
	log.Printf("session finished: %d iteration(s), %d file(s) in %v", sum.Iterations, len(sum.Files), time.Since(start).Round(time.Second))
}
