package main

import (
	"context"
	"log/slog"

	"daftie-backend/lib/configutil"
	"daftie-backend/lib/serviceutil"
	"daftie-backend/lib/telemetry"
	"daftie-backend/services/overlay"
	"daftie-backend/services/overlay/detail"
	"daftie-backend/services/popup"
	"daftie-backend/services/pricewatch"
	"daftie-backend/services/stash"
	"daftie-backend/services/stash/db"
)

func main() {
	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	port := config.Port
	if port == 0 {
		port = 8130
	}

	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "overlayd")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer tel.Shutdown(ctx)
	telemetry.InstrumentPerfStats(ctx)

	slog.Info("opening database...")
	sqlite, err := config.Database.OpenDB(db.Schema)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}

	store := stash.NewStore(sqlite)

	watcher := pricewatch.NewWatcher(pricewatch.Options{
		Smtp:      config.Smtp,
		Recipient: config.AlertRecipient,
	})
	var alerter overlay.PriceAlerter
	if watcher.Enabled() {
		alerter = watcher
	} else {
		slog.Info("price drop alerts disabled, no smtp config")
	}

	session := overlay.NewSession(store, detail.NewFetcher(config.UserAgent), alerter)
	service := popup.NewService(store, session, popup.Options{
		NoteSyncURL: config.NoteSyncUrl,
		UserAgent:   config.UserAgent,
	})

	go func() {
		<-ctx.Done()
		// the signal context is already cancelled at this point, the
		// final flush still has to go through
		if err := store.Flush(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to flush stash on shutdown", "err", err)
		}
	}()

	serviceutil.StartHttpServer(port, service.Router())
}
