package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"burnflow/auth"
	"burnflow/buyback"
	"burnflow/chain"
	"burnflow/config"
	"burnflow/db"
	"burnflow/ledger"
	"burnflow/milestone"
	"burnflow/quote"
	"burnflow/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	schedule, err := config.LoadMilestones(cfg.MilestoneFile)
	if err != nil {
		log.Fatalf("bootstrap milestone schedule: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(pool, ledgerRepo)

	seeds := make([]ledger.SeedMilestone, 0, len(schedule))
	for _, m := range schedule {
		seeds = append(seeds, ledger.SeedMilestone{
			MarketCapUsd:  m.MarketCapUsd,
			BurnQuantity:  m.BurnQuantity,
			ShareOfSupply: m.ShareOfSupply,
		})
	}
	if err := ledgerRepo.SeedMilestones(ctx, seeds); err != nil {
		log.Fatalf("seed milestone schedule: %v", err)
	}

	rpc := chain.NewRPCClient(cfg.RPCURL, cfg.WalletAddress, cfg.TokenMint, cfg.CallTimeout)

	solUsd := quote.NewSolUsdResolver(cfg.PriceAPIURL, http.DefaultClient, cfg.QuoteTTL, cfg.SolUsdFallback)
	supplyTokens := float64(cfg.TotalSupply) / pow10(cfg.TokenDecimals)
	prices := quote.NewResolver(
		[]quote.Source{
			quote.NewCurveSource(rpc, cfg.TokenDecimals),
			quote.NewPrimarySource(cfg.PriceAPIURL, cfg.TokenMint, http.DefaultClient),
			quote.NewSecondarySource(cfg.PoolsAPIURL, cfg.TokenMint, http.DefaultClient),
		},
		solUsd,
		cfg.QuoteTTL,
		cfg.QuoteGraceFactor,
		supplyTokens,
		cfg.CallTimeout,
	)

	buybackService := buyback.NewService(rpc, ledgerRepo, ledgerService, prices, buyback.Config{
		SweepThresholdLamports: cfg.SweepThresholdLamports,
		SwapFeeReserveLamports: cfg.SwapFeeReserveLamports,
		BurnMarginBps:          cfg.BurnMarginBps,
	})
	milestoneService := milestone.NewService(rpc, ledgerRepo, ledgerService, prices, milestone.Config{
		Cooldown: cfg.MilestoneCooldown,
	})

	// Interrupted operations are resolved before any loop starts, so a tick
	// never races its own crash leftovers.
	if err := buybackService.Recover(ctx); err != nil {
		log.Fatalf("buyback recovery: %v", err)
	}
	if err := milestoneService.Recover(ctx); err != nil {
		log.Fatalf("milestone recovery: %v", err)
	}

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	if err := authService.Bootstrap(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatalf("bootstrap admin account: %v", err)
	}
	server := &Server{
		ledgerService: ledgerService,
		slots:         ledgerRepo,
		prices:        prices,
		authService:   authService,
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.NewLoop("buyback", cfg.BuybackInterval, buybackService.Tick).Run(gctx)
	})
	g.Go(func() error {
		return scheduler.NewLoop("milestone", cfg.MilestoneInterval, milestoneService.Tick).Run(gctx)
	})
	g.Go(func() error {
		log.Printf("api listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("shutdown: %v", err)
	}
	log.Printf("shutdown complete")
}

func pow10(n uint64) float64 {
	out := 1.0
	for i := uint64(0); i < n; i++ {
		out *= 10
	}
	return out
}
