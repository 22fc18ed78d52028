// Package pipeline decides, per request, whether the provider's binary
// thinking switch should be on, forces the model's output language, and
// detects unproductive reasoning loops in the streamed response. Request-time
// work is pure; the per-stream Observer is the only stateful piece.
package pipeline

import (
	"go.uber.org/zap"

	"thinkgate/internal/llm"
)

// Options configures a Pipeline. Zero values mean: budget 8192, force-English
// on, loop threshold 3, built-in lexicons only.
type Options struct {
	// Budget is the raw thinking budget setting ("8192", "unlimited", ...).
	// Parsing is total; junk degrades to DefaultBudget.
	Budget string
	// ForceEnglish nil means enabled.
	ForceEnglish *bool
	// LoopThreshold below 1 means DefaultLoopThreshold.
	LoopThreshold int
	// Disabled bypasses the pipeline entirely: requests pass through
	// unmodified with thinking off.
	Disabled bool

	ExtraReasoningKeywords []string
	ExtraExecutionKeywords []string

	Logger *zap.Logger
}

// Decision is the diagnostic snapshot of one request transformation.
type Decision struct {
	Task           TaskType `json:"task"`
	ReasoningScore int      `json:"reasoning_score"`
	ExecutionScore int      `json:"execution_score"`
	Preview        string   `json:"preview"`
	Budget         int      `json:"budget"`
	Band           string   `json:"band"`
	Thinking       bool     `json:"thinking"`
	ForceEnglish   bool     `json:"force_english"`
}

// Pipeline composes the task classifier, budget policy, locale enforcer, and
// loop detection into one request-mutation plus stream-observation contract.
// A Pipeline is immutable after construction and safe for any number of
// concurrent requests; per-stream state lives in Observers.
type Pipeline struct {
	classifier    *Classifier
	budget        int
	forceEnglish  bool
	loopThreshold int
	disabled      bool
	logger        *zap.Logger
}

// New builds a pipeline from options.
func New(opts Options) *Pipeline {
	forceEnglish := true
	if opts.ForceEnglish != nil {
		forceEnglish = *opts.ForceEnglish
	}

	threshold := opts.LoopThreshold
	if threshold < 1 {
		threshold = DefaultLoopThreshold
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		classifier: NewClassifier(ClassifierOptions{
			ExtraReasoningKeywords: opts.ExtraReasoningKeywords,
			ExtraExecutionKeywords: opts.ExtraExecutionKeywords,
		}),
		budget:        ParseBudget(opts.Budget, DefaultBudget),
		forceEnglish:  forceEnglish,
		loopThreshold: threshold,
		disabled:      opts.Disabled,
		logger:        logger,
	}
}

// TransformRequest classifies the conversation, injects the language
// directive, and resolves the thinking switch. The caller's messages are
// never mutated; the returned list is the one to send.
func (p *Pipeline) TransformRequest(messages []llm.Message) ([]llm.Message, bool) {
	out, decision := p.TransformDetail(messages)
	return out, decision.Thinking
}

// TransformDetail is TransformRequest plus the full Decision snapshot.
// Classification runs against the caller's original messages so the injected
// directive never pollutes keyword scoring.
func (p *Pipeline) TransformDetail(messages []llm.Message) ([]llm.Message, Decision) {
	if p.disabled {
		return messages, Decision{Task: TaskMixed, Budget: p.budget, Band: DescribeBudget(p.budget)}
	}

	classification := p.classifier.ClassifyDetail(messages)
	out := InjectInstruction(messages, p.forceEnglish)

	decision := Decision{
		Task:           classification.Task,
		ReasoningScore: classification.ReasoningScore,
		ExecutionScore: classification.ExecutionScore,
		Preview:        classification.Preview,
		Budget:         p.budget,
		Band:           DescribeBudget(p.budget),
		Thinking:       ShouldEnableThinking(classification.Task, p.budget),
		ForceEnglish:   p.forceEnglish,
	}

	p.logger.Debug("request transformed",
		zap.String("task", string(decision.Task)),
		zap.Int("reasoning_score", decision.ReasoningScore),
		zap.Int("execution_score", decision.ExecutionScore),
		zap.Int("budget", decision.Budget),
		zap.Bool("thinking", decision.Thinking),
	)

	return out, decision
}

// ApplyToRequest transforms req.Messages in place on the request value and
// sets its thinking flag. The message list held by the caller before the
// call is not touched.
func (p *Pipeline) ApplyToRequest(req *llm.Request) Decision {
	if req == nil {
		return Decision{}
	}
	out, decision := p.TransformDetail(req.Messages)
	req.Messages = out
	req.Thinking = decision.Thinking
	return decision
}

// NewObserver creates the per-stream loop detection handle. One observer per
// streaming session; never share across concurrent streams.
func (p *Pipeline) NewObserver() *Observer {
	return &Observer{
		detector: NewLoopDetector(p.loopThreshold),
		disabled: p.disabled,
		logger:   p.logger,
	}
}

// Observer threads one response stream through the loop detector.
type Observer struct {
	detector *LoopDetector
	disabled bool
	logger   *zap.Logger
	firings  int
}

// Observe consumes one stream event and returns the optional corrective
// event to inject. Events are observed in arrival order, one call per event.
func (o *Observer) Observe(ev llm.Event) *llm.Event {
	if o == nil || o.disabled {
		return nil
	}
	corrective := o.detector.Observe(ev)
	if corrective != nil {
		o.firings++
		o.logger.Warn("planning loop detected",
			zap.Int("consecutive_thinking_blocks", o.detector.Count()),
			zap.Int("firings", o.firings),
		)
	}
	return corrective
}

// ThinkingRun returns the current uninterrupted thinking-block count.
func (o *Observer) ThinkingRun() int {
	if o == nil {
		return 0
	}
	return o.detector.Count()
}

// Firings returns how many corrective events this observer has emitted.
func (o *Observer) Firings() int {
	if o == nil {
		return 0
	}
	return o.firings
}
