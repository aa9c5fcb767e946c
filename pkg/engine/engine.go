// Package engine is the orchestrator: it sequences admission, validation,
// crime enrichment, feature extraction, inference, rules and reasoning into
// one synchronous pipeline, and guarantees a structurally valid response on
// every exit path.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentra/pkg/admission"
	"sentra/pkg/config"
	"sentra/pkg/crimeintel"
	"sentra/pkg/features"
	"sentra/pkg/logging"
	"sentra/pkg/model"
	"sentra/pkg/reasoning"
	"sentra/pkg/rules"
	"sentra/pkg/schema"
	"sentra/pkg/threat"
)

// Version is reported in every response envelope.
const Version = "2.0.0"

// Orchestrator-level error codes; validation codes come from schema.
const (
	CodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	CodeOverloaded    = "SYSTEM_OVERLOADED"
	CodeMalformedJSON = "MALFORMED_REQUEST"
	CodeValidation    = "VALIDATION_FAILED"
	CodeProcessing    = "PROCESSING_ERROR"
)

// Engine is the embeddable assessment pipeline. Construct once, share
// across goroutines; every stage it holds is safe for concurrent use.
type Engine struct {
	cfg       config.Config
	log       *logging.Logger
	limiter   *admission.Limiter
	monitor   *admission.ResourceMonitor
	validator *schema.Validator
	crime     *crimeintel.Service
	extractor *features.Extractor
	loader    *model.Loader
	rules     *rules.Engine
	reasoner  *reasoning.Engine
	now       func() time.Time
}

// Options carries the injectable backends; zero value uses embedded
// defaults everywhere.
type Options struct {
	Logger     *logging.Logger
	Limiter    *admission.Limiter
	CrimeStore crimeintel.Store
	Loader     *model.Loader
}

// New assembles a pipeline from config and options.
func New(cfg config.Config, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.New("engine", logging.LevelInfo, nil)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = admission.NewLimiter(cfg.RateLimitWindow, cfg.RateLimitRequests, cfg.BurstAllowance, nil)
	}
	loader := opts.Loader
	if loader == nil {
		loader = model.NewLoader(cfg, nil, log)
	}
	store := opts.CrimeStore
	if store == nil {
		store = crimeintel.NewMemoryStore()
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		limiter:   limiter,
		monitor:   admission.NewResourceMonitor(cfg.CPUMaxPercent, cfg.MemoryMaxPercent),
		validator: schema.NewValidator(cfg),
		crime:     crimeintel.NewService(cfg, store, log),
		extractor: features.NewExtractor(cfg, log),
		loader:    loader,
		rules:     rules.NewEngine(cfg),
		reasoner:  reasoning.NewEngine(cfg, log),
		now:       time.Now,
	}
}

// Assess runs one request through the full pipeline. It never panics and
// never returns nil.
func (e *Engine) Assess(ctx context.Context, clientID string, raw []byte) (resp *schema.Response) {
	start := e.now()
	requestID := uuid.NewString()
	log := e.log.WithContext(logging.WithCorrelationID(ctx, requestID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", logging.Fields{"panic": fmt.Sprint(r)})
			resp = e.errorResponse(requestID, clientID, start, CodeProcessing,
				"internal processing failure", nil)
			requestsTotal.WithLabelValues("processing_error").Inc()
		}
		requestDuration.Observe(e.now().Sub(start).Seconds())
	}()

	if err := e.monitor.Check(); err != nil {
		log.Warn("request rejected: overloaded", logging.Fields{"client": clientID, "reason": err.Error()})
		requestsTotal.WithLabelValues("overloaded").Inc()
		return e.errorResponse(requestID, clientID, start, CodeOverloaded,
			"system temporarily overloaded, retry later", map[string]any{"retryAfterMs": 1000})
	}

	if err := e.limiter.Check(ctx, clientID, requestID); err != nil {
		log.Warn("request rejected: rate limited", logging.Fields{"client": clientID})
		requestsTotal.WithLabelValues("rate_limited").Inc()
		details := map[string]any{}
		if rle, ok := err.(*admission.RateLimitError); ok {
			details["windowSeconds"] = rle.WindowSeconds
			details["maxRequests"] = rle.MaxRequests
			details["retryAfterMs"] = rle.RetryAfter.Milliseconds()
		}
		return e.errorResponse(requestID, clientID, start, CodeRateLimit, err.Error(), details)
	}
	defer e.limiter.Complete(clientID, requestID)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestDeadline)
	defer cancel()

	req, err := schema.DecodeRequest(raw)
	if err != nil {
		requestsTotal.WithLabelValues("malformed").Inc()
		return e.errorResponse(requestID, clientID, start, CodeMalformedJSON,
			"request body is not valid JSON", nil)
	}
	if violations := e.validator.Validate(req); len(violations) > 0 {
		requestsTotal.WithLabelValues("invalid").Inc()
		detail := make([]map[string]string, 0, len(violations))
		for _, v := range violations {
			detail = append(detail, map[string]string{"code": v.Code, "field": v.Field, "message": v.Message})
		}
		return e.errorResponse(requestID, clientID, start, violations[0].Code,
			"request failed validation", map[string]any{"violations": detail})
	}

	resp = e.assessValid(ctx, log, requestID, clientID, req, start)
	requestsTotal.WithLabelValues("ok").Inc()
	threatLevelTotal.WithLabelValues(resp.ThreatLevel).Inc()
	return resp
}

// assessValid runs the scoring stages on an admitted, validated request.
func (e *Engine) assessValid(ctx context.Context, log *logging.Logger, requestID, clientID string, req *schema.Request, start time.Time) *schema.Response {
	cc := crimeintel.Neutral()
	if req.Location != nil {
		cc = e.crime.ContextFor(ctx, req.Location.Lat, req.Location.Lon)
	}

	vec := e.extractor.Extract(req, cc, start)
	probs, fallback := e.loader.Predict(vec)
	if fallback {
		modelFallbackTotal.Inc()
	}

	res := e.reasoner.Analyze(req, cc, probs, start)

	var level threat.Level
	confidence := res.Confidence
	ruleApplied := ""
	if verdict, ok := e.rules.Evaluate(req, probs); ok {
		level = verdict.Level
		confidence = 1.0
		ruleApplied = verdict.Name
		ruleMatchTotal.WithLabelValues(verdict.Name).Inc()
	} else {
		level = e.reasoner.LevelFromScore(res.Score)
		if fallback && level > threat.Standard {
			// Without a verified model, rule-less verdicts cap at standard;
			// genuine emergencies still escalate through the rule table.
			level = threat.Standard
		}
	}

	log.Info("assessment complete", logging.Fields{
		"client":      clientID,
		"threatLevel": level.String(),
		"score":       res.Score,
		"rule":        ruleApplied,
		"fallback":    fallback || res.Fallback,
	})

	status := e.loader.Status()
	return &schema.Response{
		RequestID:               requestID,
		ClientID:                clientID,
		Timestamp:               e.now().UTC().Format(time.RFC3339Nano),
		Version:                 Version,
		ThreatLevel:             level.String(),
		Confidence:              confidence,
		ProbabilityDistribution: threat.Distribution(probs),
		Reasoning: &schema.ReasoningSummary{
			PrimaryFactors:  res.PrimaryFactors,
			RuleApplied:     ruleApplied,
			LayerAnalysis:   res.LayerAnalysis,
			Recommendations: recommendations(level),
		},
		Context: &schema.ContextSummary{
			SystemMode:     req.SystemMode,
			RiskZone:       cc.RiskZone,
			CrimeIndex:     cc.CrimeIndex,
			RelevantCrimes: cc.RelevantCrimes,
			RiskFactors:    cc.RiskFactors,
			Battery:        battery(req),
		},
		ProcessingTimeMs: float64(e.now().Sub(start).Microseconds()) / 1000.0,
		SystemStatus: schema.SystemStatus{
			Healthy:        true,
			FallbackActive: fallback || res.Fallback,
		},
		Security: &schema.SecurityStatus{
			RequestValidated: true,
			ModelVerified:    status.Verified,
			SignatureValid:   status.SignatureValid,
		},
	}
}

// errorResponse builds the failure envelope with a conservative standard
// assessment so callers always receive a complete object.
func (e *Engine) errorResponse(requestID, clientID string, start time.Time, code, message string, details map[string]any) *schema.Response {
	return &schema.Response{
		RequestID:        requestID,
		ClientID:         clientID,
		Timestamp:        e.now().UTC().Format(time.RFC3339Nano),
		Version:          Version,
		ThreatLevel:      threat.Standard.String(),
		Confidence:       0,
		ProcessingTimeMs: float64(e.now().Sub(start).Microseconds()) / 1000.0,
		SystemStatus:     schema.SystemStatus{Healthy: true, FallbackActive: true},
		Error:            true,
		ErrorCode:        code,
		Message:          message,
		Details:          details,
	}
}

// Health is the health-endpoint payload.
type Health struct {
	Healthy        bool         `json:"healthy"`
	ModelLoaded    bool         `json:"modelLoaded"`
	ModelVerified  bool         `json:"modelVerified"`
	FallbackActive bool         `json:"fallbackActive"`
	CacheHits      uint64       `json:"cacheHits"`
	CacheMisses    uint64       `json:"cacheMisses"`
	CacheSize      int          `json:"cacheSize"`
	Version        string       `json:"version"`
	ModelStatus    model.Status `json:"model"`
}

// HealthCheck summarizes pipeline health. The pipeline is healthy even when
// the model is unloaded; fallback mode is a quality degradation, not an
// outage.
func (e *Engine) HealthCheck() Health {
	st := e.loader.Status()
	hits, misses, size := e.extractor.CacheStats()
	return Health{
		Healthy:        true,
		ModelLoaded:    st.Loaded,
		ModelVerified:  st.Verified,
		FallbackActive: !st.Loaded,
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheSize:      size,
		Version:        Version,
		ModelStatus:    st,
	}
}

// ReportIncident feeds a new crime incident into the intelligence store.
func (e *Engine) ReportIncident(ctx context.Context, inc crimeintel.Incident) error {
	return e.crime.Report(ctx, inc)
}

// IncidentStats returns aggregate counts over the incident feed.
func (e *Engine) IncidentStats(ctx context.Context) (crimeintel.Stats, error) {
	return e.crime.StoreStats(ctx)
}

// LimiterMetrics exposes a client's admission state.
func (e *Engine) LimiterMetrics(clientID string) admission.Metrics {
	return e.limiter.ClientMetrics(clientID)
}

func recommendations(level threat.Level) []string {
	switch level {
	case threat.Critical:
		return []string{"dispatch emergency response", "notify homeowner immediately"}
	case threat.Elevated:
		return []string{"notify homeowner", "review live camera feeds"}
	case threat.Standard:
		return []string{"log event and continue monitoring"}
	default:
		return []string{"no action required"}
	}
}

func battery(req *schema.Request) *float64 {
	if req.DeviceInfo == nil {
		return nil
	}
	return req.DeviceInfo.Battery
}
