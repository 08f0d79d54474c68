// Package directory maps user identities to the connection currently
// serving them. Entries live in Redis so every instance can route to a
// connection held by another one, and in a process-local table used when
// Redis is absent or unreachable.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
)

const (
	DefaultTTL = 2 * time.Minute

	// Unscoped is the default signaling channel.
	Unscoped = ""

	keyPrefix = "conn:"
	scanCount = 64
)

// compareAndDelete removes KEYS[1] only while it still points at ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Key layout: conn:{<user>} and conn:{<user>}:<channel>. The braces keep all
// of a user's entries in one cluster slot.
func key(userID, channel string) string {
	if channel == Unscoped {
		return keyPrefix + "{" + userID + "}"
	}
	return keyPrefix + "{" + userID + "}:" + channel
}

func escapeGlob(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(s)
}

func channelOf(userID, redisKey string) string {
	return strings.TrimPrefix(redisKey, key(userID, Unscoped)+":")
}

type localEntry struct {
	connID    string
	expiresAt time.Time
}

type Directory struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	local map[string]map[string]localEntry
}

type Option func(*Directory)

func WithRedis(client redis.UniversalClient) Option {
	return func(d *Directory) { d.client = client }
}

func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) { d.ttl = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) { d.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func New(opts ...Option) *Directory {
	d := &Directory{
		ttl:    DefaultTTL,
		logger: slog.Default(),
		now:    time.Now,
		local:  make(map[string]map[string]localEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", roomerr.ErrUnavailable, err)
}

func (d *Directory) setLocal(userID, channel, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	channels, exist := d.local[userID]
	if !exist {
		channels = make(map[string]localEntry)
		d.local[userID] = channels
	}
	channels[channel] = localEntry{connID: connID, expiresAt: d.now().Add(d.ttl)}
}

func (d *Directory) deleteLocal(userID, channel, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	channels, exist := d.local[userID]
	if !exist {
		return
	}
	if entry, exist := channels[channel]; exist && (connID == "" || entry.connID == connID) {
		delete(channels, channel)
	}
	if len(channels) == 0 {
		delete(d.local, userID)
	}
}

func (d *Directory) getLocal(userID, channel string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, exist := d.local[userID][channel]
	if !exist || !d.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.connID, true
}

func (d *Directory) allLocal(userID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	result := make([]string, 0, len(d.local[userID]))
	for _, entry := range d.local[userID] {
		if now.Before(entry.expiresAt) {
			result = append(result, entry.connID)
		}
	}
	return result
}

// Register points (userID, channel) at connID and refreshes its expiry.
// Registering the same key again overwrites the previous connection. The
// local entry is kept even when Redis is unreachable.
func (d *Directory) Register(ctx context.Context, userID, connID, channel string) error {
	if userID == "" || connID == "" {
		return fmt.Errorf("register empty user or connection id: %w", roomerr.ErrInvalidState)
	}

	d.setLocal(userID, channel, connID)

	if d.client == nil {
		return nil
	}
	if err := d.client.Set(ctx, key(userID, channel), connID, d.ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Refresh extends the expiry of an existing entry.
func (d *Directory) Refresh(ctx context.Context, userID, connID, channel string) error {
	d.setLocal(userID, channel, connID)

	if d.client == nil {
		return nil
	}
	refreshed, err := d.client.Expire(ctx, key(userID, channel), d.ttl).Result()
	if err != nil {
		return unavailable(err)
	}
	if !refreshed {
		return d.Register(ctx, userID, connID, channel)
	}
	return nil
}

func (d *Directory) Unregister(ctx context.Context, userID, channel string) error {
	d.deleteLocal(userID, channel, "")

	if d.client == nil {
		return nil
	}
	if err := d.client.Del(ctx, key(userID, channel)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// UnregisterConn removes the entry only while it still points at connID, so
// a late disconnect never evicts a newer connection of the same user.
func (d *Directory) UnregisterConn(ctx context.Context, userID, channel, connID string) error {
	d.deleteLocal(userID, channel, connID)

	if d.client == nil {
		return nil
	}
	if err := compareAndDelete.Run(ctx, d.client, []string{key(userID, channel)}, connID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}
	return nil
}

func (d *Directory) Lookup(ctx context.Context, userID, channel string) (string, error) {
	if d.client != nil {
		connID, err := d.client.Get(ctx, key(userID, channel)).Result()
		switch {
		case err == nil:
			return connID, nil
		case errors.Is(err, redis.Nil):
		default:
			d.logger.Warn("directory lookup falling back to local table",
				slog.String("user_id", userID),
				slog.String("channel", channel),
				slog.String("err", err.Error()),
			)
		}
	}

	if connID, exist := d.getLocal(userID, channel); exist {
		return connID, nil
	}
	return "", fmt.Errorf("connection of %s on channel %q: %w", userID, channel, roomerr.ErrNotFound)
}

// Resolve tries the unscoped entry first and then each channel in order.
func (d *Directory) Resolve(ctx context.Context, userID string, channels ...string) (string, error) {
	candidates := append([]string{Unscoped}, channels...)
	for _, channel := range candidates {
		connID, err := d.Lookup(ctx, userID, channel)
		if err == nil {
			return connID, nil
		}
		if !errors.Is(err, roomerr.ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("connection of %s: %w", userID, roomerr.ErrNotFound)
}

// LookupAll returns every live connection of userID across channels,
// de-duplicated and sorted.
func (d *Directory) LookupAll(ctx context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, connID := range d.allLocal(userID) {
		seen[connID] = struct{}{}
	}

	if d.client != nil {
		if err := d.collectShared(ctx, userID, seen); err != nil {
			d.logger.Warn("directory scan falling back to local table",
				slog.String("user_id", userID),
				slog.String("err", err.Error()),
			)
		}
	}

	result := make([]string, 0, len(seen))
	for connID := range seen {
		result = append(result, connID)
	}
	sort.Strings(result)
	return result, nil
}

func (d *Directory) collectShared(ctx context.Context, userID string, seen map[string]struct{}) error {
	keys := []string{key(userID, Unscoped)}

	pattern := keyPrefix + "{" + escapeGlob(userID) + "}:*"
	var cursor uint64
	for {
		batch, next, err := d.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return err
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		return err
	}
	for i, value := range values {
		connID, ok := value.(string)
		if !ok || connID == "" {
			continue
		}
		seen[connID] = struct{}{}
		d.logger.Debug("directory entry",
			slog.String("user_id", userID),
			slog.String("channel", channelOf(userID, keys[i])),
		)
	}
	return nil
}
