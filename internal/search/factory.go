package search

import (
	"context"
	"fmt"

	"deepresearch/internal/config"
	"deepresearch/internal/index"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
)

// Factory instantiates engine adapters from the registry document and the
// settings store. Engines whose prerequisites are not met come back as
// unavailable rather than failing construction.
type Factory struct {
	Registry config.EngineRegistry
	Settings config.SettingsProvider
	LLM      llm.Client
	Searcher *index.Searcher // nil when no local index is configured

	MaxResults int
}

// Build returns the adapter for a registered engine name. The second
// return is false when the engine cannot operate with the current
// configuration; callers get an unavailable stub that yields no results.
func (f *Factory) Build(name string) (Engine, bool) {
	spec, ok := f.Registry[name]
	if !ok {
		if r, found := LookupRetriever(name); found {
			return NewRetrieverEngine(name, r, f.maxResults()), true
		}
		logging.EngineWarn("unknown engine %q", name)
		return &unavailableEngine{name: name, reason: "not registered"}, false
	}

	if spec.RequiresLLM && f.LLM == nil {
		logging.EngineWarn("engine %q needs an LLM and none is configured", name)
		return &unavailableEngine{name: name, reason: "no LLM configured"}, false
	}

	apiKey := f.setting(name, "api_key")
	if spec.RequiresAPIKey && apiKey == "" {
		logging.EngineWarn("engine %q needs an API key and none is configured", name)
		return &unavailableEngine{name: name, reason: "no API key configured"}, false
	}

	max := f.maxResults()
	switch name {
	case "searxng":
		base := f.setting(name, "base_url")
		if base == "" {
			base = spec.DefaultParams["base_url"]
		}
		if base == "" {
			return &unavailableEngine{name: name, reason: "no base_url configured"}, false
		}
		return NewSearxNGEngine(base, max), true

	case "brave":
		return NewBraveEngine(apiKey, max, f.webParams(name)), true

	case "google_pse":
		searchID := f.setting(name, "search_engine_id")
		if searchID == "" {
			return &unavailableEngine{name: name, reason: "no search_engine_id configured"}, false
		}
		return NewGooglePSEEngine(apiKey, searchID, max, f.webParams(name)), true

	case "duckduckgo":
		return NewDuckDuckGoEngine(max, f.webParams(name)), true

	case "arxiv":
		return NewArxivEngine(max), true

	case "wikipedia":
		return NewWikipediaEngine(max), true

	case "semantic_scholar":
		return NewSemanticScholarEngine(apiKey, max), true

	case "wayback":
		var resolver Engine
		if res, ok := f.Build("duckduckgo"); ok {
			resolver = res
		}
		return NewWaybackEngine(resolver, max, f.setting(name, "from_date"), f.setting(name, "to_date")), true

	case "github":
		return NewGitHubEngine(f.LLM, f.setting(name, "token"), max), true

	case "local":
		if f.Searcher == nil {
			return &unavailableEngine{name: name, reason: "no local index configured"}, false
		}
		threshold := 0.0
		if f.Settings != nil {
			threshold = f.Settings.GetFloat("search.engine.local.score_threshold", 0)
		}
		return NewLocalEngine(f.Searcher, f.setting(name, "collection"), max, threshold), true

	default:
		if r, found := LookupRetriever(name); found {
			return NewRetrieverEngine(name, r, max), true
		}
		return &unavailableEngine{name: name, reason: fmt.Sprintf("no adapter for type %q", spec.Type)}, false
	}
}

func (f *Factory) setting(engine, key string) string {
	if f.Settings == nil {
		return ""
	}
	return f.Settings.GetString("search.engine.web."+engine+"."+key, "")
}

// webParams collects the locale and safe-search settings for one engine.
func (f *Factory) webParams(engine string) WebParams {
	return WebParams{
		Region:     f.setting(engine, "region"),
		Language:   f.setting(engine, "language"),
		SafeSearch: f.setting(engine, "safe_search"),
	}
}

func (f *Factory) maxResults() int {
	if f.MaxResults > 0 {
		return f.MaxResults
	}
	if f.Settings != nil {
		if n := f.Settings.GetInt("search.max_results", 0); n > 0 {
			return n
		}
	}
	return 10
}

// unavailableEngine is the degraded stand-in for a misconfigured engine:
// it satisfies the contract and always yields nothing.
type unavailableEngine struct {
	name   string
	reason string
}

func (e *unavailableEngine) Name() string { return e.name }

func (e *unavailableEngine) GetPreviews(context.Context, string) ([]Result, error) {
	return nil, nil
}

func (e *unavailableEngine) GetFullContent(_ context.Context, previews []Result) ([]Result, error) {
	return previews, nil
}
