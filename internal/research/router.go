package research

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
)

// Query classes the router distinguishes.
const (
	classFactoid  = "factoid"
	classPuzzle   = "puzzle"
	classCompound = "compound"
	classResearch = "research"
)

// redispatchFloor is the confidence below which the router tries a second
// strategy. It re-dispatches at most once per query.
const redispatchFloor = 0.3

// SmartRouter classifies the query with the LLM and dispatches to the
// matching strategy.
type SmartRouter struct {
	tk *Toolkit

	direct     Strategy
	reasoning  Strategy
	decompose  Strategy
	sourceBase Strategy
}

func NewSmartRouter(tk *Toolkit) *SmartRouter {
	return &SmartRouter{
		tk:         tk,
		direct:     NewDirectStrategy(tk),
		reasoning:  NewReasoningStrategy(tk),
		decompose:  NewDecomposeStrategy(tk),
		sourceBase: NewSourceBasedStrategy(tk),
	}
}

func (r *SmartRouter) Name() string { return "smart" }

func (r *SmartRouter) AnalyzeTopic(ctx context.Context, query string) (*Result, error) {
	class := r.classify(ctx, query)
	strategy := r.strategyFor(class)
	logging.Strategy("router: %q classified as %s -> %s", query, class, strategy.Name())
	r.tk.progress("Routing", 5, strategy.Name())

	res, err := strategy.AnalyzeTopic(ctx, query)
	if err != nil {
		return res, err
	}

	// One re-dispatch on low confidence; never more.
	if res != nil && !res.Cancelled && res.Confidence < redispatchFloor {
		fallback := r.fallbackFor(strategy)
		if fallback != nil {
			logging.Strategy("router: confidence %.2f, re-dispatching to %s", res.Confidence, fallback.Name())
			retry, rerr := fallback.AnalyzeTopic(ctx, query)
			if rerr == nil && retry != nil && retry.Confidence > res.Confidence {
				res = retry
			}
		}
	}
	return res, err
}

// classify maps the query to one of the four classes, defaulting to
// research when the model is unavailable or answers off-script.
func (r *SmartRouter) classify(ctx context.Context, query string) string {
	if r.tk.LLM == nil {
		return classResearch
	}

	prompt := fmt.Sprintf(`Classify this query as exactly one word out of:
factoid (single verifiable fact), puzzle (constraints pointing at one
answer), compound (several linked sub-questions), research (open-ended
survey).

Query: %s`, query)

	resp, err := r.tk.LLM.Complete(ctx, prompt)
	if err != nil {
		logging.Strategy("router classification failed, defaulting to research: %v", err)
		return classResearch
	}

	answer := strings.ToLower(strings.TrimSpace(llm.StripCodeFences(resp)))
	for _, class := range []string{classFactoid, classPuzzle, classCompound, classResearch} {
		if strings.Contains(answer, class) {
			return class
		}
	}
	return classResearch
}

func (r *SmartRouter) strategyFor(class string) Strategy {
	switch class {
	case classFactoid:
		return r.direct
	case classPuzzle:
		return r.reasoning
	case classCompound:
		return r.decompose
	default:
		return r.sourceBase
	}
}

// fallbackFor picks the second attempt: broad queries get the reasoning
// loop, everything else falls back to the source-based survey.
func (r *SmartRouter) fallbackFor(first Strategy) Strategy {
	if first == r.sourceBase {
		return r.reasoning
	}
	return r.sourceBase
}
