// Package listener provides a Postgres LISTEN/NOTIFY consumer that keeps
// the API response cache coherent with the wines table. It holds a dedicated
// pgx connection (not from the pool) listening on the wine_changes channel.
//
// The wines trigger fires pg_notify for every inserted, updated or deleted
// row, whichever process wrote it: an import, an enrichment sweep or an
// admin override.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/legrimoire/grimoire-data/internal/cache"
	"github.com/legrimoire/grimoire-data/internal/config"
	"github.com/legrimoire/grimoire-data/internal/metrics"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// ChangeEvent is the JSON payload from pg_notify('wine_changes', ...).
type ChangeEvent struct {
	ID     string  `json:"id"`
	LWIN7  *string `json:"lwin7"`
	LWIN11 *string `json:"lwin11"`
	Op     string  `json:"op"`
}

// Prefixes returns the cache key prefixes a change makes stale. Every
// search page may include the row, so searches are always dropped.
func (e ChangeEvent) Prefixes() []string {
	out := []string{cache.PrefixSearch}
	if e.ID != "" {
		out = append(out, cache.PrefixWine+e.ID)
	}
	if e.LWIN7 != nil && *e.LWIN7 != "" {
		out = append(out, cache.PrefixLWIN+*e.LWIN7)
	}
	if e.LWIN11 != nil && *e.LWIN11 != "" {
		out = append(out, cache.PrefixLWIN+*e.LWIN11)
	}
	return out
}

// ParseEvent decodes a notification payload.
func ParseEvent(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	return ev, nil
}

// Start opens a dedicated connection and listens on the changes channel.
// It reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, c *cache.Cache, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, c, logger)
		if ctx.Err() != nil {
			logger.Info("Change listener stopped (context cancelled)")
			return
		}

		// Notifications were missed while disconnected.
		n := c.Invalidate(cache.PrefixWine, cache.PrefixLWIN, cache.PrefixSearch)
		metrics.CacheInvalidations.WithLabelValues("reconnect").Add(float64(n))

		logger.Error("Change listener disconnected, reconnecting...",
			"error", err, "backoff", backoff, "flushed", n)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, c *cache.Cache, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+config.ChangesChannel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", config.ChangesChannel, err)
	}
	logger.Info("Change listener connected", "channel", config.ChangesChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		Handle(c, notification.Payload, logger)
	}
}

// Handle applies one notification payload to the cache and returns the
// number of entries dropped.
func Handle(c *cache.Cache, payload string, logger *slog.Logger) int {
	ev, err := ParseEvent(payload)
	if err != nil {
		logger.Warn("Failed to parse change event", "payload", payload, "error", err)
		return 0
	}
	n := c.Invalidate(ev.Prefixes()...)
	metrics.CacheInvalidations.WithLabelValues("notify").Add(float64(n))
	logger.Debug("Wine change received", "id", ev.ID, "op", ev.Op, "invalidated", n)
	return n
}
