// Command sandbox is the composition root for a full sandbox run of the
// purchase core: sqlite-backed wallet, in-memory platform store, background
// listener, and one scripted top-up and order payment against a running
// foodcourtd backend.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/campuseats/orderpay/internal/catalog"
	"github.com/campuseats/orderpay/internal/orders"
	"github.com/campuseats/orderpay/internal/pkg/cache"
	"github.com/campuseats/orderpay/internal/pkg/telemetry"
	"github.com/campuseats/orderpay/internal/platform"
	"github.com/campuseats/orderpay/internal/purchase"
	"github.com/campuseats/orderpay/internal/verify"
	"github.com/campuseats/orderpay/internal/wallet"
	walletsqlite "github.com/campuseats/orderpay/internal/wallet/sqlite"
)

const (
	productTopUp = "wallet.topup.10"
	productMeal  = "meal.payment"
)

func main() {
	_ = godotenv.Load()
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, telemetry.Config{
		ServiceName: getEnv("OTEL_SERVICE_NAME", "orderpay-sandbox"),
	})
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	dbPath := getEnv("WALLET_DB", "./data/wallet.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	repo, err := walletsqlite.Open(dbPath)
	if err != nil {
		slog.Error("failed to open wallet store", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ledger, err := wallet.Load(ctx, repo, slog.Warn)
	if err != nil {
		slog.Error("failed to load wallet", "error", err)
		os.Exit(1)
	}

	store := platform.NewMemStore([]catalog.Offer{
		{ID: productTopUp, DisplayPrice: decimal.RequireFromString("10.00"), Kind: catalog.KindWalletTopUp},
		{ID: productMeal, DisplayPrice: decimal.RequireFromString("8.50"), Kind: catalog.KindOrderPayment},
	})

	cat := catalog.New(store, []string{productTopUp, productMeal})
	if err := cat.Load(ctx); err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	verifier := verify.New(verify.ParseEnvironment(getEnv("STORE_ENV", "sandbox")))

	ordersClient := orders.NewClient(
		getEnv("ORDER_API_URL", "http://localhost:8080"),
		os.Getenv("ORDER_API_TOKEN"),
		&http.Client{Timeout: 10 * time.Second},
	)

	var statusCache cache.Cache = cache.NewMemory()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		statusCache = cache.NewRedis(addr, "orderpay")
	}
	tracker := orders.NewTracker(ordersClient, statusCache, time.Hour)

	rec := purchase.NewReconciler(cat, ledger, repo, store, ordersClient)
	orchestrator := purchase.NewOrchestrator(store, verifier, rec)

	listener := purchase.NewListener(store, verifier, rec)
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("listener stopped", "error", err)
		}
	}()

	slog.Info("sandbox starting", "balance", ledger.Balance().String())

	// Scripted top-up with a custom amount override.
	topUp, _ := cat.Offer(productTopUp)
	override := decimal.RequireFromString("25.00")
	intent, err := purchase.NewIntent(topUp, &override, nil)
	if err != nil {
		slog.Error("bad intent", "error", err)
		os.Exit(1)
	}
	result, err := orchestrator.Begin(ctx, intent)
	if err != nil {
		slog.Error("top-up failed", "error", err)
	} else {
		slog.Info("top-up resolved", "status", string(result.Status), "balance", ledger.Balance().String())
	}

	// Scripted meal order paid through the platform.
	meal, _ := cat.Offer(productMeal)
	userID := getEnv("USER_ID", "sandbox-user")
	cart := &orders.SubmitRequest{
		UserID:       userID,
		RestaurantID: "campus-grill",
		Items: []orders.Item{
			{ProductID: "burger", Quantity: 1, Price: decimal.RequireFromString("8.50"), Name: "Campus Burger"},
		},
		Type: orders.TypeTakeaway,
	}
	mealIntent, err := purchase.NewIntent(meal, nil, cart)
	if err != nil {
		slog.Error("bad meal intent", "error", err)
		os.Exit(1)
	}
	result, err = orchestrator.Begin(ctx, mealIntent)
	if err != nil {
		slog.Error("meal purchase failed", "error", err)
	} else if result.Status == purchase.StatusFinished {
		if ords, err := ordersClient.ListUserOrders(ctx, userID); err == nil {
			for _, o := range ords {
				if current, err := tracker.Apply(ctx, o); err == nil {
					slog.Info("order tracked", "order_id", current.ID, "status", string(current.Status))
				}
			}
		}
	}

	// Deliver an out-of-band top-up and its revocation through the listener.
	update := store.Issue(productTopUp)
	store.Deliver(update)
	store.Deliver(store.Revoke(update.Transaction))

	time.Sleep(200 * time.Millisecond)
	slog.Info("sandbox done", "balance", ledger.Balance().String(), "transactions", len(ledger.Transactions()))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
