// ABOUTME: One-shot sync and status subcommands over the offline store.
// ABOUTME: Sync replays the queued mutations; status inspects session and queue.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/helio-ai/console/internal/auth"
	"github.com/helio-ai/console/internal/config"
	"github.com/helio-ai/console/internal/offline"
)

func runSync(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	cred := loadCredential(cfg)
	if !cred.Present() {
		return fmt.Errorf("no credential: set HELIO_TOKEN or auth.token")
	}

	store, err := offline.NewSQLiteStore(cfg.Offline.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening offline store: %w", err)
	}
	defer store.Close()

	m := offline.NewManager(store, offline.NewRESTReplayer(cfg.Server.APIURL, cred), cfg.Offline,
		offline.WithLogger(logger),
		offline.WithFingerprint(cred.Fingerprint()),
	)

	pending := m.Queue(ctx)
	if len(pending) == 0 {
		fmt.Println("Nothing to sync.")
		return nil
	}
	fmt.Printf("Replaying %d queued change(s)...\n", len(pending))

	m.SetOnline(true)

	// SetOnline kicks off a background drain; whichever drain wins the guard
	// does the work, so retry until the guard is free.
	var report offline.DrainReport
	for {
		report, err = m.Drain(ctx)
		if !errors.Is(err, offline.ErrDrainInProgress) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	if err != nil {
		return fmt.Errorf("draining queue: %w", err)
	}

	remaining := len(m.Queue(ctx))
	green := color.New(color.FgGreen)
	green.Printf("Synced. ")
	fmt.Printf("replayed=%d remaining=%d dropped=%d\n",
		len(pending)-remaining-len(report.Dropped), remaining, len(report.Dropped))

	for _, action := range report.Dropped {
		color.Red("  dropped: %s %s (after %d attempts)", action.Kind, action.Resource, action.RetryCount)
	}
	return nil
}

func runStatus(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cred := loadCredential(cfg)

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	fmt.Println()
	cyan.Println("  Session")
	cyan.Println("  -------")
	fmt.Printf("  Config:  %s\n", configPath)
	fmt.Printf("  Socket:  %s\n", cfg.Server.SocketURL)
	fmt.Printf("  API:     %s\n", cfg.Server.APIURL)
	fmt.Printf("  Tenant:  %s\n", cred.TenantID)

	if !cred.Present() {
		color.Yellow("  Token:   not set (HELIO_TOKEN)")
	} else if identity, err := auth.ParseIdentity(cred.Token); err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			color.Red("  Token:   expired")
		} else {
			color.Yellow("  Token:   unreadable (%v)", err)
		}
	} else {
		fmt.Printf("  User:    %s", identity.Subject)
		if identity.DisplayName != "" {
			gray.Printf(" (%s)", identity.DisplayName)
		}
		fmt.Println()
		if !identity.ExpiresAt.IsZero() {
			fmt.Printf("  Expires: %s\n", identity.ExpiresAt.Format(time.RFC3339))
		}
	}

	store, err := offline.NewSQLiteStore(cfg.Offline.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening offline store: %w", err)
	}
	defer store.Close()

	m := offline.NewManager(store, nil, cfg.Offline, offline.WithFingerprint(cred.Fingerprint()))

	fmt.Println()
	cyan.Println("  Offline")
	cyan.Println("  -------")
	fmt.Printf("  Store:   %s\n", cfg.Offline.DatabasePath)
	fmt.Printf("  Queued:  %d change(s)\n", len(m.Queue(ctx)))
	if snap := m.LoadSnapshot(ctx); !snap.LastSync.IsZero() {
		fmt.Printf("  Synced:  %s\n", snap.LastSync.Format(time.RFC3339))
	} else {
		gray.Println("  Synced:  never")
	}
	fmt.Println()

	return nil
}
