package config

import (
	"strings"
	"testing"
	"time"
)

// production sets everything Validate requires outside RUN_LOCAL.
func production(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"RUN_LOCAL":           "false",
		"ORDERS_TABLE":        "orders",
		"STATE_TABLE":         "state",
		"IDEMPOTENCY_TABLE":   "idem",
		"RAZORPAY_KEY_ID":     "rzp_live_key",
		"RAZORPAY_KEY_SECRET": "rzp_live_secret",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Region != "us-east-1" || cfg.Currency != "INR" || cfg.Addr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PaymentTimeout != 15*time.Minute || cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("durations: %v %v", cfg.PaymentTimeout, cfg.IdempotencyTTL)
	}
	if cfg.UseDynamo() {
		t.Fatal("no tables configured, expected local mode")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	production(t)
	t.Setenv("DELIVERY_CHARGE", "50")
	t.Setenv("PAYMENT_TIMEOUT", "90s")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeliveryCharge != 50 || cfg.PaymentTimeout != 90*time.Second {
		t.Fatalf("unexpected: %+v", cfg)
	}
	if cfg.EndpointOverride != "http://localhost:4566" || !cfg.UseDynamo() {
		t.Fatalf("unexpected: %+v", cfg)
	}
	if cfg.GatewayKeyID != "rzp_live_key" || cfg.GatewayKeySecret != "rzp_live_secret" {
		t.Fatalf("gateway keys: %+v", cfg)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]struct {
		vars map[string]string
		want string
	}{
		"missing orders table":  {map[string]string{"ORDERS_TABLE": ""}, "ORDERS_TABLE"},
		"missing state table":   {map[string]string{"STATE_TABLE": ""}, "STATE_TABLE"},
		"missing ledger table":  {map[string]string{"IDEMPOTENCY_TABLE": ""}, "IDEMPOTENCY_TABLE"},
		"missing gateway key":   {map[string]string{"RAZORPAY_KEY_ID": ""}, "RAZORPAY_KEY_ID"},
		"missing signing key":   {map[string]string{"RAZORPAY_KEY_SECRET": ""}, "RAZORPAY_KEY_SECRET"},
		"local without backend": {map[string]string{"RUN_LOCAL": "true", "ORDERS_TABLE": "", "AWS_ENDPOINT_OVERRIDE": ""}, "AWS_ENDPOINT_OVERRIDE"},
		"negative delivery":     {map[string]string{"DELIVERY_CHARGE": "-1"}, "DELIVERY_CHARGE"},
		"bad currency":          {map[string]string{"CURRENCY": "RUPEE"}, "CURRENCY"},
		"bad duration":          {map[string]string{"PAYMENT_TIMEOUT": "soon"}, "soon"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			production(t)
			for k, v := range tc.vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not name %s", err, tc.want)
			}
		})
	}
}

func TestLoad_LocalNeedsNoGatewayKeys(t *testing.T) {
	t.Setenv("RUN_LOCAL", "true")
	t.Setenv("ORDERS_TABLE", "orders")
	t.Setenv("RAZORPAY_KEY_SECRET", "")

	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
