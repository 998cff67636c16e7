// internal/service/analysis/orchestrator.go

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/imaging"
)

// ActivityRecorder persists completed analyses
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a analysis.Activity) error
}

// Publisher is the event bus surface. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Observer receives analysis metrics
type Observer interface {
	ObserveAttempt(kind string, class string)
	ObserveAnalysis(kind string, outcome string, attempts int, elapsed time.Duration)
}

// Config contains configuration for an orchestrator
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	EventsTopic     string
	HistoryPrivacy  string
	DefaultLanguage string
}

// DefaultConfig returns the production retry policy
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       1500 * time.Millisecond,
		EventsTopic:     "activity",
		HistoryPrivacy:  geosvc.PrivacyNeighborhood,
		DefaultLanguage: "fr",
	}
}

// Dependencies groups the collaborators of an orchestrator. Recorder,
// EventBus and Observer are optional.
type Dependencies struct {
	Engine   *imaging.Engine
	Invoker  Invoker
	Recorder ActivityRecorder
	EventBus Publisher
	Observer Observer
	Privacy  *geosvc.PrivacyManager
}

// Orchestrator runs the capture flow for one kind of analysis. A new
// Analyze call cancels the one in flight.
type Orchestrator struct {
	kind   analysis.Kind
	preset imaging.Preset
	deps   Dependencies
	config Config
	logger logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	phase         analysis.Phase
	seq           uint64
	cancel        context.CancelFunc
	last          *analysis.Request
	phaseHandlers []func(analysis.Phase)
}

// NewOrchestrator creates an orchestrator compressing with preset
func NewOrchestrator(
	kind analysis.Kind,
	preset imaging.Preset,
	deps Dependencies,
	config Config,
	logger logging.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.Noop()
	}
	if deps.Privacy == nil {
		deps.Privacy = geosvc.NewPrivacyManager()
	}
	return &Orchestrator{
		kind:   kind,
		preset: preset,
		deps:   deps,
		config: config,
		logger: logger.With(logging.String("kind", string(kind))),
		sleep:  sleepContext,
		phase:  analysis.PhaseCapture,
	}
}

// Phase returns the current phase
func (o *Orchestrator) Phase() analysis.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// RegisterPhaseHandler registers a callback for phase changes
func (o *Orchestrator) RegisterPhaseHandler(handler func(analysis.Phase)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phaseHandlers = append(o.phaseHandlers, handler)
}

// LastCapture returns the image of the most recent request. It survives
// failures so the capture can be retried.
func (o *Orchestrator) LastCapture() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	return o.last.Image
}

// Retry re-runs the most recent request
func (o *Orchestrator) Retry(ctx context.Context) (*analysis.Result, error) {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()

	if last == nil {
		return nil, analysis.ErrNothingToRetry
	}
	return o.Analyze(ctx, *last)
}

// Cancel aborts the request in flight, if any
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Analyze compresses the capture, invokes the remote analysis with retries
// and returns the parsed result.
func (o *Orchestrator) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	if req.Language == "" {
		req.Language = o.config.DefaultLanguage
	}

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.seq++
	seq := o.seq
	o.cancel = cancel
	o.last = &req
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.seq == seq {
			o.cancel = nil
		}
		o.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	o.setPhase(seq, analysis.PhaseCompressing)

	compressed, err := o.deps.Engine.Compress(runCtx, req.Image, o.preset, nil)
	if err != nil {
		o.setPhase(seq, analysis.PhaseCapture)
		o.observe("compression_failed", 0, start)
		return nil, err
	}

	o.setPhase(seq, analysis.PhaseAnalyzing)

	var info *geo.LocationInfo
	if req.Position != nil {
		li := geosvc.Describe(*req.Position)
		info = &li
	}

	raw, attempts, err := o.invokeWithRetry(runCtx, o.requestBody(req, compressed, info))
	if err != nil {
		o.setPhase(seq, analysis.PhaseCapture)
		o.observe("failed", attempts, start)
		return nil, err
	}

	res, err := analysis.Parse(o.kind, raw)
	if err != nil {
		o.setPhase(seq, analysis.PhaseCapture)
		o.observe("bad_response", attempts, start)
		return nil, err
	}
	res.ID = uuid.New().String()
	res.Attempts = attempts
	res.Location = info

	if !o.setPhase(seq, analysis.PhaseResult) {
		// superseded while parsing
		return nil, context.Canceled
	}
	o.observe("success", attempts, start)

	o.record(ctx, req, res)
	return res, nil
}

type requestBody struct {
	Image       string   `json:"image"`
	Language    string   `json:"language"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Accuracy    *float64 `json:"accuracy,omitempty"`
	Region      string   `json:"region,omitempty"`
	ClimateZone string   `json:"climateZone,omitempty"`
	CropHint    string   `json:"cropHint,omitempty"`
}

func (o *Orchestrator) requestBody(req analysis.Request, img *imaging.Result, info *geo.LocationInfo) requestBody {
	body := requestBody{
		Image:    img.Base64(),
		Language: req.Language,
		CropHint: req.Crop,
	}
	if p := req.Position; p != nil {
		body.Latitude = geo.Float(p.Latitude)
		body.Longitude = geo.Float(p.Longitude)
		body.Altitude = p.Altitude
		body.Accuracy = geo.Float(p.Accuracy)
	}
	if info != nil {
		body.Region = info.Region
		body.ClimateZone = info.ClimateZone
	}
	return body
}

// invokeWithRetry retries network and transient failures with exponential
// backoff. It returns the number of attempts made.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, body any) (json.RawMessage, int, error) {
	function := o.kind.Function()

	for attempt := 0; ; attempt++ {
		raw, err := o.deps.Invoker.Invoke(ctx, function, body)
		if err == nil {
			o.observeAttempt("ok")
			return raw, attempt + 1, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt + 1, ctxErr
		}

		class := Classify(err)
		o.observeAttempt(class.String())

		if class == ClassTerminal {
			return nil, attempt + 1, err
		}
		if attempt >= o.config.MaxRetries {
			return nil, attempt + 1, fmt.Errorf("%w after %d attempts: %w", classError(class), attempt+1, err)
		}

		delay := o.config.BaseDelay * time.Duration(1<<attempt)
		o.logger.Warn(ctx, "analysis call failed, retrying",
			logging.Int("attempt", attempt+1),
			logging.String("class", class.String()),
			logging.Duration("delay", delay),
			logging.Err(err))

		if err := o.sleep(ctx, delay); err != nil {
			return nil, attempt + 1, err
		}
	}
}

// setPhase applies a phase change unless seq was superseded
func (o *Orchestrator) setPhase(seq uint64, phase analysis.Phase) bool {
	o.mu.Lock()
	if o.seq != seq {
		o.mu.Unlock()
		return false
	}
	o.phase = phase
	handlers := make([]func(analysis.Phase), len(o.phaseHandlers))
	copy(handlers, o.phaseHandlers)
	o.mu.Unlock()

	for _, h := range handlers {
		h(phase)
	}
	return true
}

func (o *Orchestrator) record(ctx context.Context, req analysis.Request, res *analysis.Result) {
	activity := analysis.Activity{
		ID:        res.ID,
		UserID:    req.UserID,
		Kind:      o.kind,
		Summary:   res.Summary(),
		Language:  req.Language,
		Payload:   res.Raw,
		CreatedAt: time.Now().UTC(),
	}
	if req.Position != nil {
		activity.Position = o.deps.Privacy.Apply(*req.Position, o.config.HistoryPrivacy)
	}
	if res.Location != nil {
		activity.Region = res.Location.Region
	}

	// history needs an identity
	if o.deps.Recorder != nil && req.UserID != "" {
		if err := o.deps.Recorder.RecordActivity(ctx, activity); err != nil {
			o.logger.Error(ctx, "error recording activity", logging.Err(err))
		}
	}

	if o.deps.EventBus != nil {
		if err := o.publishCompleted(activity); err != nil {
			o.logger.Error(ctx, "error publishing completion event", logging.Err(err))
		}
	}
}

type completedEvent struct {
	ID        string        `json:"id"`
	Kind      analysis.Kind `json:"kind"`
	UserID    string        `json:"userId,omitempty"`
	Summary   string        `json:"summary"`
	Region    string        `json:"region,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// publishCompleted publishes an activity completed event
func (o *Orchestrator) publishCompleted(a analysis.Activity) error {
	data, err := json.Marshal(completedEvent{
		ID:        a.ID,
		Kind:      a.Kind,
		UserID:    a.UserID,
		Summary:   a.Summary,
		Region:    a.Region,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("error marshaling event: %w", err)
	}

	topic := fmt.Sprintf("%s.%s.completed", o.config.EventsTopic, o.kind)
	return o.deps.EventBus.Publish(topic, data)
}

func (o *Orchestrator) observe(outcome string, attempts int, start time.Time) {
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveAnalysis(string(o.kind), outcome, attempts, time.Since(start))
	}
}

func (o *Orchestrator) observeAttempt(class string) {
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveAttempt(string(o.kind), class)
	}
}

func classError(c ErrorClass) error {
	if c == ClassNetwork {
		return analysis.ErrNetwork
	}
	return analysis.ErrTransientServer
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
