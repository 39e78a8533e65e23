package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/always-cache/offline-cache/cache"
)

// State is the lifecycle state of an agent.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	// An agent whose install failed is never activated.
	StateRedundant State = "redundant"
)

var (
	// ErrNotInstalled is returned when activating an agent that has not been installed.
	ErrNotInstalled = errors.New("agent is not installed")
	// ErrBadStatus is returned for precache responses that are not ok.
	ErrBadStatus = errors.New("bad response status")
)

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.state
}

// Controlling reports whether the agent handles requests with its caching strategies.
func (a *Agent) Controlling() bool {
	return a.controlling.Load()
}

// Install stores the precache resources in the general partition.
// Either all resources are stored or, if any request fails, none are and the agent becomes redundant.
// A successful install skips waiting, so the agent can be activated right away.
func (a *Agent) Install(ctx context.Context) error {
	a.mutex.Lock()
	if a.state != StateParsed {
		state := a.state
		a.mutex.Unlock()
		return fmt.Errorf("install: agent is %s", state)
	}
	a.state = StateInstalling
	a.mutex.Unlock()

	a.log.Info().Str("partition", a.names.General).Int("resources", len(a.precache)).Msg("Installing")
	err := a.precacheAll(ctx)

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if err != nil {
		a.state = StateRedundant
		a.log.Error().Err(err).Msg("Install failed")
		return fmt.Errorf("install: %w", err)
	}
	a.state = StateInstalled
	a.skipWaiting = true
	a.log.Info().Msg("Installed")
	return nil
}

// precacheAll fetches all precache resources concurrently and writes them in one go.
func (a *Agent) precacheAll(ctx context.Context) error {
	entries := make([]cache.CacheEntry, len(a.precache))
	g, gctx := errgroup.WithContext(ctx)
	for i, resource := range a.precache {
		g.Go(func() error {
			ref, err := url.Parse(resource)
			if err != nil {
				return fmt.Errorf("precache %s: %w", resource, err)
			}
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, a.originURL.ResolveReference(ref).String(), nil)
			if err != nil {
				return fmt.Errorf("precache %s: %w", resource, err)
			}
			res, err := a.network.Fetch(req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", resource, err)
			}
			if !isOK(res) || !isComplete(res) {
				res.Body.Close()
				return fmt.Errorf("precache %s: %w: %d", resource, ErrBadStatus, res.StatusCode)
			}
			key, err := a.keyer.GetKey(req)
			if err == nil {
				entries[i], err = a.entry(key, req, res)
			}
			res.Body.Close()
			if err != nil {
				return fmt.Errorf("precache %s: %w", resource, err)
			}
			a.log.Trace().Str("key", key).Msg("Precached")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p, err := a.storage.Open(a.names.General)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.names.General, err)
	}
	return p.PutAll(entries)
}

// Activate deletes all partitions not used by this version and takes control of requests.
func (a *Agent) Activate(ctx context.Context) error {
	a.mutex.Lock()
	if a.state != StateInstalled || !a.skipWaiting {
		a.mutex.Unlock()
		return ErrNotInstalled
	}
	a.state = StateActivating
	a.mutex.Unlock()

	err := a.deleteOldPartitions(ctx)

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if err != nil {
		a.state = StateInstalled
		return fmt.Errorf("activate: %w", err)
	}
	a.state = StateActivated
	a.controlling.Store(true)
	a.log.Info().Msg("Activated and controlling requests")
	return nil
}

func (a *Agent) deleteOldPartitions(ctx context.Context) error {
	names, err := a.storage.Keys()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	allowed := a.names.AllowList()
	for _, name := range names {
		if slices.Contains(allowed, name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.storage.Delete(name); err != nil {
			return fmt.Errorf("delete partition %s: %w", name, err)
		}
		a.log.Debug().Str("partition", name).Msg("Deleted old partition")
	}
	return nil
}

// Wait blocks until all background revalidations have finished.
// Requests that would start a revalidation meanwhile are held until Wait returns.
func (a *Agent) Wait() {
	a.backgroundMutex.Lock()
	defer a.backgroundMutex.Unlock()
	a.background.Wait()
}

// goBackground runs f in a goroutine tracked by Wait.
func (a *Agent) goBackground(f func()) {
	a.backgroundMutex.Lock()
	a.background.Add(1)
	a.backgroundMutex.Unlock()
	go func() {
		defer a.background.Done()
		f()
	}()
}
