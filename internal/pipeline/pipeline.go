// Package pipeline runs callable operations: validate the request, render the
// operation's prompt, call the text-generation service once and reshape the
// answer into the callable envelope.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"poetry-tutor/internal/metrics"
	"poetry-tutor/internal/models"
	"poetry-tutor/internal/operations"
)

const tracerName = "poetry-tutor/internal/pipeline"

var (
	// ErrUnknownOperation is returned for callable names missing from the catalog.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidArgument matches every *ValidationError.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Request is the decoded callable payload.
type Request map[string]any

// Dispatcher sends one chat request to the text-generation service.
type Dispatcher interface {
	Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, models.Model, error)
}

// ValidationError reports required fields that were absent or falsy.
type ValidationError struct {
	Operation string
	Missing   []string
	Message   string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is lets callers match validation failures with errors.Is(err, ErrInvalidArgument).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// Envelope is the successful result of an invocation.
type Envelope struct {
	Result any     `json:"result"`
	Tokens *Tokens `json:"tokens,omitempty"`
}

// Tokens mirrors the usage block returned to callers.
type Tokens struct {
	TokenUsage TokenUsage `json:"tokenUsage"`
}

// TokenUsage holds the token counts reported by the service.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Options configures a Pipeline.
type Options struct {
	Catalog      *operations.Catalog
	Dispatcher   Dispatcher
	DefaultModel string
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Pipeline is immutable after New and safe for concurrent use.
type Pipeline struct {
	catalog      *operations.Catalog
	dispatcher   Dispatcher
	defaultModel string
	logger       *zap.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
}

// New validates the options. When the dispatcher can report routable models,
// the default model and every per-operation override must be routable.
func New(opts Options) (*Pipeline, error) {
	if opts.Catalog == nil {
		return nil, errors.New("operation catalog must not be nil")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("default model must not be empty")
	}
	if checker, ok := opts.Dispatcher.(interface{ HasModel(string) bool }); ok {
		for _, model := range append([]string{opts.DefaultModel}, opts.Catalog.Models()...) {
			if !checker.HasModel(model) {
				return nil, fmt.Errorf("model %q is used by the operation catalog but no provider serves it", model)
			}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		catalog:      opts.Catalog,
		dispatcher:   opts.Dispatcher,
		defaultModel: opts.DefaultModel,
		logger:       logger.Named("pipeline"),
		metrics:      opts.Metrics,
		tracer:       otel.Tracer(tracerName),
	}, nil
}

// Catalog returns the operations served by the pipeline.
func (p *Pipeline) Catalog() *operations.Catalog {
	return p.catalog
}

// Invoke runs the named operation against req.
func (p *Pipeline) Invoke(ctx context.Context, name string, req Request) (env Envelope, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "invoke "+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("poetry_tutor.operation", name)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		label := name
		if errors.Is(err, ErrUnknownOperation) {
			label = "unknown"
		}
		p.metrics.Observe(label, outcome(err), time.Since(start))
	}()

	op, ok := p.catalog.Lookup(name)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	if !op.Generative() {
		return p.invokeNative(op, req)
	}

	if missing := missingFields(op.Required, req); len(missing) > 0 {
		p.logger.Debug("rejected invocation",
			zap.String("operation", op.Name),
			zap.Strings("missing", missing),
		)
		return Envelope{}, &ValidationError{Operation: op.Name, Missing: missing, Message: op.Message}
	}

	rendered, err := op.Template.Render(op.Expand(req))
	if err != nil {
		return Envelope{}, fmt.Errorf("render %s prompt: %w", op.Name, err)
	}

	p.logger.Info("rendered prompt",
		zap.String("operation", op.Name),
		zap.String("prompt", rendered.String()),
	)

	model := op.Model
	if model == "" {
		model = p.defaultModel
	}
	span.SetAttributes(attribute.String("poetry_tutor.model", model))

	resp, modelInfo, err := p.dispatcher.Chat(ctx, models.ChatRequest{
		Model:       model,
		Messages:    rendered.Messages,
		Temperature: op.Temperature,
	})
	if err != nil {
		p.logger.Error("text generation failed",
			zap.String("operation", op.Name),
			zap.String("model", model),
			zap.Error(err),
		)
		return Envelope{}, fmt.Errorf("%s: %w", op.Name, err)
	}

	p.metrics.AddTokens(op.Name, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	p.logger.Debug("text generation finished",
		zap.String("operation", op.Name),
		zap.String("model", modelInfo.ID),
		zap.String("finish_reason", resp.FinishReason),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return Envelope{
		Result: resp.Message.Content,
		Tokens: &Tokens{TokenUsage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}},
	}, nil
}

func (p *Pipeline) invokeNative(op *operations.Operation, req Request) (Envelope, error) {
	switch op.Native {
	case operations.NativeSum:
		var sum float64
		var invalid []string
		for _, field := range op.Required {
			n, ok := number(req[field])
			if !ok {
				invalid = append(invalid, field)
				continue
			}
			sum += n
		}
		if len(invalid) > 0 {
			return Envelope{}, &ValidationError{Operation: op.Name, Missing: invalid, Message: op.Message}
		}
		return Envelope{Result: sum}, nil
	default:
		return Envelope{}, fmt.Errorf("operation %s: unsupported native implementation %q", op.Name, op.Native)
	}
}

// missingFields lists required fields that are absent or falsy: null, false,
// zero and the empty string. Empty lists and objects are present.
func missingFields(required []string, req Request) []string {
	var missing []string
	for _, field := range required {
		if isFalsy(req[field]) {
			missing = append(missing, field)
		}
	}
	return missing
}

func isFalsy(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case json.Number, float64, float32, int, int64:
		n, ok := number(v)
		return ok && (n == 0 || math.IsNaN(n))
	default:
		return false
	}
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrInvalidArgument):
		return metrics.OutcomeInvalidArgument
	case errors.Is(err, ErrUnknownOperation):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeUpstreamError
	}
}
