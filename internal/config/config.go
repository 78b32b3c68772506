// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is shared by the API and the worker. Outside RUN_LOCAL every table
// and the gateway keys are required. RUN_LOCAL without tables keeps the
// ledger and buyer state in process and writes orders to the default table
// names behind AWS_ENDPOINT_OVERRIDE (LocalStack or DynamoDB Local).
type Config struct {
	Region           string `env:"AWS_REGION" envDefault:"us-east-1"`
	EndpointOverride string `env:"AWS_ENDPOINT_OVERRIDE"`

	OrdersTable      string `env:"ORDERS_TABLE"`
	OrderItemsTable  string `env:"ORDER_ITEMS_TABLE"`
	ShippingTable    string `env:"SHIPPING_TABLE"`
	PaymentsTable    string `env:"PAYMENTS_TABLE"`
	IdempotencyTable string `env:"IDEMPOTENCY_TABLE"`
	StateTable       string `env:"STATE_TABLE"`
	QueueURL         string `env:"ORDERS_QUEUE_URL"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"Checkout"`

	GatewayKeyID     string `env:"RAZORPAY_KEY_ID"`
	GatewayKeySecret string `env:"RAZORPAY_KEY_SECRET"`

	Currency       string        `env:"CURRENCY" envDefault:"INR"`
	DeliveryCharge int64         `env:"DELIVERY_CHARGE" envDefault:"5000"` // minor units
	StoreName      string        `env:"STORE_NAME" envDefault:"Storefront"`
	PaymentTimeout time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"15m"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"48h"`

	RunLocal bool   `env:"RUN_LOCAL"`
	Addr     string `env:"ADDR" envDefault:":8080"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values env tags cannot express.
func (c Config) Validate() error {
	if c.DeliveryCharge < 0 {
		return errors.New("DELIVERY_CHARGE must not be negative")
	}
	if c.PaymentTimeout < 0 {
		return errors.New("PAYMENT_TIMEOUT must not be negative")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY %q is not an ISO 4217 code", c.Currency)
	}
	if c.RunLocal {
		if c.OrdersTable == "" && c.EndpointOverride == "" {
			return errors.New("AWS_ENDPOINT_OVERRIDE is required when RUN_LOCAL runs without ORDERS_TABLE")
		}
		return nil
	}
	required := []struct{ name, value string }{
		{"ORDERS_TABLE", c.OrdersTable},
		{"STATE_TABLE", c.StateTable},
		{"IDEMPOTENCY_TABLE", c.IdempotencyTable},
		{"RAZORPAY_KEY_ID", c.GatewayKeyID},
		{"RAZORPAY_KEY_SECRET", c.GatewayKeySecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required unless RUN_LOCAL is set", r.name)
		}
	}
	return nil
}

// UseDynamo reports whether order records go to DynamoDB.
func (c Config) UseDynamo() bool {
	return c.OrdersTable != ""
}
