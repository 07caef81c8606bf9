package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quillon/receiptwise/internal/engine"
	"github.com/quillon/receiptwise/internal/ledger"
	"github.com/quillon/receiptwise/internal/messenger"
	"github.com/quillon/receiptwise/internal/oracle"
	"github.com/quillon/receiptwise/internal/receipts"
	"github.com/quillon/receiptwise/internal/service"
	"github.com/quillon/receiptwise/internal/storage"
)

// expandPath resolves a leading ~ and any $VAR references in a configured
// file path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}
	return os.ExpandEnv(path)
}

// initStorage opens the database and brings the schema up to date.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/receiptwise/receiptwise.db"
	}
	dbPath = expandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// buildEngine assembles the full pipeline from configuration.
func buildEngine(store service.Storage) (*engine.Engine, error) {
	logger := slog.Default()

	ledgerClient, err := ledger.NewClient(ledger.Config{
		BaseURL: viper.GetString("ledger.url"),
		Token:   viper.GetString("ledger.token"),
		Timeout: viper.GetDuration("ledger.timeout"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}

	receiptSource, err := receipts.NewSource(receipts.Config{
		BaseURL: viper.GetString("extraction.url"),
		Token:   viper.GetString("extraction.token"),
		Timeout: viper.GetDuration("extraction.timeout"),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create receipt source: %w", err)
	}

	sender, err := messenger.New(messenger.Config{
		BaseURL:   viper.GetString("messenger.url"),
		Token:     viper.GetString("messenger.token"),
		Recipient: viper.GetString("messenger.recipient"),
		MaxLength: viper.GetInt("messenger.max_length"),
		Timeout:   viper.GetDuration("messenger.timeout"),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create messenger: %w", err)
	}

	classifier, err := oracle.New(oracle.Config{
		Provider:   viper.GetString("oracle.provider"),
		APIKey:     viper.GetString("oracle.api_key"),
		Model:      viper.GetString("oracle.model"),
		MaxRetries: viper.GetInt("oracle.max_retries"),
		CacheTTL:   viper.GetDuration("oracle.cache_ttl"),
		Timeout:    viper.GetDuration("oracle.timeout"),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle: %w", err)
	}

	return engine.New(engine.Deps{
		Storage:   store,
		Ledger:    ledgerClient,
		Receipts:  receiptSource,
		Oracle:    classifier,
		Messenger: sender,
		Logger:    logger,
	}, engine.Config{
		LookbackDays:       viper.GetInt("sync.lookback_days"),
		MatchWindowDays:    viper.GetInt("sync.match_window_days"),
		AutoApplyThreshold: viper.GetFloat64("sync.auto_apply_threshold"),
		RefundLookbackDays: viper.GetInt("sync.refund_lookback_days"),
		ApprovalTimeout:    viper.GetDuration("sync.approval_timeout"),
		RunTimeout:         viper.GetDuration("sync.run_timeout"),
		PatternFile:        expandPath(viper.GetString("sync.pattern_file")),
	})
}

func init() {
	viper.SetDefault("oracle.provider", "anthropic")
	viper.SetDefault("oracle.cache_ttl", 15*time.Minute)
	viper.SetDefault("sync.lookback_days", 30)
	viper.SetDefault("sync.auto_apply_threshold", 0.85)
	viper.SetDefault("sync.approval_timeout", 24*time.Hour)
}
