package runtime

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
)

// ComposeState fuses the selected providers' outputs into one State for
// the message.
//
// Selection: with onlyInclude, exactly the named providers run. Otherwise
// every non-private, non-dynamic provider runs, plus any provider named in
// includeList (which is how private providers like ACTION_STATE are pulled
// in on demand). Selected providers execute concurrently and merge in
// ascending Position order regardless of completion order; any provider
// failure fails the whole composition.
//
// The prior cached state for m.ID feeds the merge: providers not refreshed
// this turn keep their cached entry, and fresh values win over cached
// ones. The composed state is cached under m.ID and returned. After
// composition state.Values["providers"] == state.Text.
func (rt *AgentRuntime) ComposeState(ctx context.Context, m *models.Memory, includeList []string, onlyInclude, skipCache bool) (*models.State, error) {
	selected := rt.selectProviders(includeList, onlyInclude)

	var prior *models.State
	cacheKey := ""
	if m != nil && m.ID != uuid.Nil {
		cacheKey = m.ID.String()
	}
	if cacheKey != "" && !skipCache {
		if cached, ok := rt.stateCache.Get(cacheKey); ok {
			prior = cached
		}
	}

	// Each goroutine writes its own slot, so results needs no lock.
	results := make([]*models.ProviderResult, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range selected {
		g.Go(func() error {
			res, err := p.Get(gctx, rt, m, prior)
			if err != nil {
				return &ProviderError{Provider: p.Name, Err: err}
			}
			if res == nil {
				res = &models.ProviderResult{}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state := models.NewState()

	// Carry prior data forward, then overlay this turn's provider results.
	providerData := make(map[string]*models.ProviderResult)
	if prior != nil {
		for k, v := range prior.Data {
			state.Data[k] = v
		}
		if cached, ok := prior.Data["providers"].(map[string]*models.ProviderResult); ok {
			for name, res := range cached {
				providerData[name] = res
			}
		}
	}
	refreshed := make(map[string]bool, len(selected))
	for i, p := range selected {
		providerData[p.Name] = results[i]
		refreshed[p.Name] = true
	}
	state.Data["providers"] = providerData

	var parts []string
	for _, res := range results {
		if res.Text != "" {
			parts = append(parts, res.Text)
		}
	}
	state.Text = strings.Join(parts, "\n")

	if prior != nil {
		for k, v := range prior.Values {
			state.Values[k] = v
		}
	}
	for _, res := range results {
		for k, v := range res.Values {
			state.Values[k] = v
		}
	}
	// Cached providers that did not run this turn still contribute their
	// values, but never override fresh ones.
	for name, res := range providerData {
		if refreshed[name] {
			continue
		}
		for k, v := range res.Values {
			if _, taken := state.Values[k]; !taken {
				state.Values[k] = v
			}
		}
	}
	state.Values["providers"] = state.Text

	if cacheKey != "" {
		rt.stateCache.Add(cacheKey, state)
	}
	return state, nil
}

// selectProviders applies the selection rule and returns the providers in
// ascending Position order (ties keep registration order).
func (rt *AgentRuntime) selectProviders(includeList []string, onlyInclude bool) []*plugin.Provider {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	byName := make(map[string]*plugin.Provider, len(rt.providers))
	for _, p := range rt.providers {
		byName[p.Name] = p
	}

	var selected []*plugin.Provider
	seen := make(map[string]bool)
	add := func(p *plugin.Provider) {
		if p != nil && !seen[p.Name] {
			seen[p.Name] = true
			selected = append(selected, p)
		}
	}

	if onlyInclude && len(includeList) > 0 {
		for _, name := range includeList {
			add(byName[name])
		}
	} else {
		for _, p := range rt.providers {
			if !p.Private && !p.Dynamic {
				add(p)
			}
		}
		for _, name := range includeList {
			add(byName[name])
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Position < selected[j].Position
	})
	return selected
}

// CachedState returns the composed state cached for key, if any. Keys are
// message IDs, plus the "<id>_action_results" entries left by the action
// engine.
func (rt *AgentRuntime) CachedState(key string) (*models.State, bool) {
	return rt.stateCache.Get(key)
}
