// Package disposable rejects account email addresses whose domain appears
// on a public list of throwaway email providers.
package disposable

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Blocklist checks email domains against a list of known disposable email
// providers. The domain list is fetched lazily on first use and cached for
// the lifetime of the process. If the initial fetch fails, subsequent calls
// retry until the list loads successfully.
type Blocklist struct {
	url     string
	enabled bool
	client  *http.Client
	log     zerolog.Logger

	mu      sync.RWMutex
	domains map[string]struct{}
	loaded  bool
}

// NewBlocklist creates a blocklist backed by the list at url. If enabled is
// false, IsBlocked always returns false without fetching anything.
func NewBlocklist(url string, enabled bool, logger zerolog.Logger) *Blocklist {
	return &Blocklist{
		url:     url,
		enabled: enabled,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     logger.With().Str("component", "disposable").Logger(),
	}
}

// IsBlocked reports whether domain appears on the blocklist.
func (b *Blocklist) IsBlocked(ctx context.Context, domain string) (bool, error) {
	if !b.enabled {
		return false, nil
	}

	key := strings.ToLower(domain)

	b.mu.RLock()
	if b.loaded {
		_, blocked := b.domains[key]
		b.mu.RUnlock()
		return blocked, nil
	}
	b.mu.RUnlock()

	if err := b.refresh(ctx, false); err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, blocked := b.domains[key]
	return blocked, nil
}

// Prefetch loads the list ahead of the first registration so that no request
// blocks on the initial fetch. Failures are logged and retried lazily.
func (b *Blocklist) Prefetch(ctx context.Context) {
	if !b.enabled {
		return
	}
	if err := b.refresh(ctx, false); err != nil {
		b.log.Warn().Err(err).Msg("Blocklist prefetch failed, will retry on demand")
	}
}

// Run prefetches the list and then refreshes it every interval until the
// context is cancelled, so long-running processes pick up new domains.
func (b *Blocklist) Run(ctx context.Context, interval time.Duration) {
	if !b.enabled {
		<-ctx.Done()
		return
	}

	b.Prefetch(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.refresh(ctx, true); err != nil {
				b.log.Warn().Err(err).Msg("Blocklist refresh failed, keeping previous list")
			}
		}
	}
}

// refresh fetches the list. When force is false an already-loaded list is
// kept as is; concurrent callers coalesce behind the write lock.
func (b *Blocklist) refresh(ctx context.Context, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded && !force {
		return nil
	}

	domains, err := b.fetch(ctx)
	if err != nil {
		return fmt.Errorf("load disposable email blocklist: %w", err)
	}

	b.domains = domains
	b.loaded = true
	b.log.Debug().Int("domains", len(domains)).Msg("Blocklist loaded")
	return nil
}

func (b *Blocklist) fetch(ctx context.Context) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blocklist: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blocklist returned status %d", resp.StatusCode)
	}

	domains := make(map[string]struct{})
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read blocklist: %w", err)
	}

	return domains, nil
}
