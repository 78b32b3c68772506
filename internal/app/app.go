// Package app assembles the checkout service from configuration.
package app

import (
	"errors"
	"log"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cart"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/config"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/handlers"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/state"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

type App struct {
	Orders     *orders.Store
	Ledger     checkout.Ledger
	State      state.Repository
	Carts      *cart.Store
	Widget     *payment.HostedWidget
	Sessions   *checkout.Sessions
	Reconciler *checkout.Reconciler
}

// New wires the service. Orders always go to DynamoDB; without table names
// (RUN_LOCAL) the default names are used against the configured endpoint, and
// the ledger and buyer state stay in process.
func New(cfg config.Config, clients *aws.AWSClients) (*App, error) {
	if clients == nil || clients.DynamoDB == nil {
		return nil, errors.New("app: a DynamoDB client is required")
	}

	store := orders.NewStore(clients.DynamoDB, orders.Tables{
		Orders:     orDefault(cfg.OrdersTable, "orders"),
		OrderItems: orDefault(cfg.OrderItemsTable, "order_items"),
		Shipping:   orDefault(cfg.ShippingTable, "shipping"),
		Payments:   orDefault(cfg.PaymentsTable, "payments"),
	})

	var ledger checkout.Ledger = idempotency.NewMemory()
	if cfg.IdempotencyTable == "" {
		log.Printf("[app] IDEMPOTENCY_TABLE not set, payment ledger is in process")
	} else {
		ledger = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	}

	var repo state.Repository = state.NewMemory()
	if cfg.StateTable == "" {
		log.Printf("[app] STATE_TABLE not set, carts and checkout sessions are in process")
	} else {
		repo = state.NewDynamoRepository(clients.DynamoDB, cfg.StateTable)
	}

	deps := checkout.Deps{
		Backend:   store,
		State:     repo,
		Ledger:    ledger,
		Validator: validation.New(),
		Options: checkout.Options{
			GatewayKey:     cfg.GatewayKeyID,
			Currency:       cfg.Currency,
			StoreName:      cfg.StoreName,
			Description:    "Order payment",
			DeliveryCharge: cfg.DeliveryCharge,
			PaymentTimeout: cfg.PaymentTimeout,
		},
	}
	if clients.SQS != nil && cfg.QueueURL != "" {
		deps.Notifier = checkout.NewQueueNotifier(aws.NewPublisher(clients.SQS, cfg.QueueURL))
	}
	if clients.CloudWatch != nil {
		deps.Metrics = aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace)
	}

	widget := payment.NewHostedWidget(cfg.GatewayKeySecret)
	deps.Gateway = widget

	return &App{
		Orders:     store,
		Ledger:     ledger,
		State:      repo,
		Carts:      cart.NewStore(repo),
		Widget:     widget,
		Sessions:   checkout.NewSessions(deps),
		Reconciler: checkout.NewReconciler(store, ledger),
	}, nil
}

// HandlerConfig returns the API handler dependencies.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Sessions:  a.Sessions,
		Carts:     a.Carts,
		Orders:    a.Orders,
		Widget:    a.Widget,
		Ledger:    a.Ledger,
		Validator: validation.New(),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
