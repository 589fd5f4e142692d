package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "ratnakart-dev",
		}),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Orders.StalePaymentMaxAge != time.Hour {
		t.Fatalf("stale payment max age = %s, want 1h", cfg.Orders.StalePaymentMaxAge)
	}
	if cfg.Orders.MinimumAmountPaise != 100 {
		t.Fatalf("minimum amount = %d, want 100", cfg.Orders.MinimumAmountPaise)
	}
	if cfg.Events.Enabled {
		t.Fatal("events should default to disabled")
	}
	if cfg.Events.ProjectID != "ratnakart-dev" {
		t.Fatalf("events project = %s, want firestore project fallback", cfg.Events.ProjectID)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID":         "ratnakart-prod",
			"API_SERVER_PORT":                  "9090",
			"API_ORDERS_STALE_PAYMENT_MAX_AGE": "30m",
			"API_RAZORPAY_KEY_ID":              "rzp_test_abc",
			"API_RAZORPAY_KEY_SECRET":          "shhh",
			"API_EVENTS_ENABLED":               "true",
			"API_EVENTS_TOPIC_ID":              "orders",
		}),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %s, want 9090", cfg.Server.Port)
	}
	if cfg.Orders.StalePaymentMaxAge != 30*time.Minute {
		t.Fatalf("stale payment max age = %s, want 30m", cfg.Orders.StalePaymentMaxAge)
	}
	if !cfg.Events.Enabled || cfg.Events.TopicID != "orders" {
		t.Fatalf("events = %+v", cfg.Events)
	}
	if cfg.Razorpay.WebhookSecret != "shhh" {
		t.Fatalf("webhook secret should fall back to key secret, got %q", cfg.Razorpay.WebhookSecret)
	}
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{}),
	)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := validationErr.Fields()
	found := false
	for _, field := range fields {
		if field == "Firestore.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Firestore.ProjectID in %v", fields)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://projects/p/secrets/razorpay-key/versions/latest" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "resolved-secret", nil
	})
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("Razorpay.KeySecret"),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "ratnakart-dev",
			"API_RAZORPAY_KEY_SECRET":  "sm://projects/p/secrets/razorpay-key/versions/latest",
		}),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Razorpay.KeySecret != "resolved-secret" {
		t.Fatalf("key secret = %q, want resolved value", cfg.Razorpay.KeySecret)
	}
}

func TestLoadMissingRequiredSecret(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Razorpay.KeySecret"),
		WithEnvMap(map[string]string{
			"API_FIRESTORE_PROJECT_ID": "ratnakart-dev",
		}),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "Razorpay.KeySecret" {
		t.Fatalf("missing names = %v", names)
	}
}
