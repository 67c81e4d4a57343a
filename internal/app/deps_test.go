package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bakaf/pixel/internal/appwrite"
	"github.com/bakaf/pixel/internal/config"
	"github.com/bakaf/pixel/internal/platform/memory"
)

func TestBuildDependenciesMemory(t *testing.T) {
	client, cleanup, err := buildDependencies(context.Background(), config.Config{Provider: config.ProviderMemory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = cleanup(context.Background()) }()

	if _, ok := client.Account.(*memory.Backend); !ok {
		t.Fatalf("expected memory account service, got %T", client.Account)
	}
	if client.Documents == nil || client.Storage == nil || client.Avatars == nil {
		t.Fatalf("expected every service to be configured: %+v", client)
	}
}

func TestBuildDependenciesAppwrite(t *testing.T) {
	cfg := config.Config{
		Provider:    config.ProviderAppwrite,
		Endpoint:    "https://cloud.appwrite.io/v1",
		ProjectID:   "project",
		Platform:    "com.bakaf.pixel",
		RateLimit:   5,
		RateBurst:   1,
		Timeout:     time.Second,
		SessionFile: filepath.Join(t.TempDir(), "session"),
	}

	client, cleanup, err := buildDependencies(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() { _ = cleanup(context.Background()) }()

	if _, ok := client.Account.(*appwrite.Account); !ok {
		t.Fatalf("expected appwrite account service, got %T", client.Account)
	}
	if _, ok := client.Storage.(*appwrite.Storage); !ok {
		t.Fatalf("expected appwrite storage service, got %T", client.Storage)
	}

	cfg.Endpoint = ""
	if _, _, err := buildDependencies(context.Background(), cfg); err == nil {
		t.Fatal("expected missing endpoint to fail")
	}
}

func TestBuildDependenciesSelfhostFailsOnBadDatabaseURL(t *testing.T) {
	cfg := config.Config{
		Provider:      config.ProviderSelfhost,
		DatabaseURL:   "postgres://%zz",
		DocumentStore: config.StorePostgres,
		SessionStore:  config.StoreMemory,
		S3Bucket:      "media",
		SessionFile:   filepath.Join(t.TempDir(), "session"),
	}
	if _, _, err := buildDependencies(context.Background(), cfg); err == nil {
		t.Fatal("expected an unparsable database url to fail")
	}
}

func TestBuildDependenciesUnknownProvider(t *testing.T) {
	if _, _, err := buildDependencies(context.Background(), config.Config{Provider: "firebase"}); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
}
