package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/f3rmion/multisig/config"
	"github.com/f3rmion/multisig/logging"
	"github.com/f3rmion/multisig/metrics"
	"github.com/f3rmion/multisig/scheme"
)

func main() {
	args, err := ParseArgs()
	if err != nil {
		fmt.Println("Error parsing arguments:", err)
		os.Exit(1)
	}
	if err := run(args); err != nil {
		fmt.Println("simulation failed:", err)
		os.Exit(1)
	}
}

func run(a args) error {
	conf := config.New(a.dataDir, config.DefaultSettings())
	if err := conf.Init(); err != nil {
		return err
	}
	settings := conf.Get()
	if a.nodes+1 > settings.MaxAuthorities {
		return fmt.Errorf("%d nodes exceed max_authorities %d", a.nodes+1, settings.MaxAuthorities)
	}

	logger, err := logging.New(settings.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := scheme.New(scheme.ID(settings.Scheme))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	if a.metricsAddr != "" {
		srv := &http.Server{Addr: a.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
		logger.Info("serving metrics", zap.String("addr", a.metricsAddr))
	}

	sim, err := newSimulation(s, settings, a.nodes, m, logger)
	if err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}
	sim.start(ctx, g)

	scriptErr := sim.script(ctx, a.genesis)
	cancel()
	sim.close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(scriptErr, err)
	}
	if scriptErr != nil {
		return scriptErr
	}
	logger.Info("simulation complete")
	return nil
}
