package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"docchat-client/internal/bootstrap"
	"docchat-client/internal/config"
	"docchat-client/internal/pkg/logger"
	"docchat-client/internal/server"
	"docchat-client/internal/tracer"
)

func main() {
	withNats := flag.Bool("nats", false, "receive session migrations from NATS")
	flag.Parse()

	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	// 2. Initialize Tracer
	shutdownTracer := tracer.InitTracer("docchat-devserver", sysLogger)
	defer shutdownTracer(context.Background())

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewServerContainer(cfg, sysLogger, *withNats)
	if err != nil {
		log.Fatalf("Failed to bootstrap dev server: %v", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Start Background Services
	if err := container.MigrationService.Start(ctx); err != nil {
		sysLogger.Warn("Main", "Session migration intake disabled", map[string]interface{}{"error": err.Error()})
	}

	// 5. Initialize Server
	srv := server.New(cfg, container, sysLogger)
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown()
	}()

	// 6. Run Server
	if err := srv.Run(); err != nil {
		sysLogger.Error("Main", "Server stopped", map[string]interface{}{"error": err.Error()})
	}
}
