package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/spigell/job-crawler/internal/ai"
	"github.com/spigell/job-crawler/internal/budget"
	"github.com/spigell/job-crawler/internal/logger"

	"go.uber.org/zap"
)

const (
	systemPrompt = "Respond only with valid JSON."

	defaultMaxLogLength = 200
)

// contentGenerator abstracts the Generator so the service can be tested with
// a stub.
type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	GenerateContentWithTemperature(ctx context.Context, system, message string, temperature float32) (string, error)
	Model() string
}

// Service implements ai.QueryEvaluator on top of a Gemini generator. Every
// model request is gated and charged against the shared effort budget before
// it is issued.
type Service struct {
	generator contentGenerator
	budget    *budget.EffortBudget
	logger    *zap.Logger
	maxLogLen int
}

// NewService creates the generator service.
func NewService(generator contentGenerator, b *budget.EffortBudget, maxLogLength int, log *zap.Logger) *Service {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		generator: generator,
		budget:    b,
		logger:    logger.WithAIFields(log, "gemini", generator.Model()),
		maxLogLen: maxLogLength,
	}
}

// GenerateQueries asks the model for search queries given the run context and
// the outcomes of queries already executed.
func (s *Service) GenerateQueries(ctx context.Context, runCtx *ai.RunContext, history []ai.QueryOutcome) (*ai.SearchQueries, error) {
	prompt, err := buildQueryPrompt(runCtx, history)
	if err != nil {
		return nil, err
	}

	payload, err := s.completeJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return validateQueries(payload)
}

// EvaluateJob scores a job document against the CV.
func (s *Service) EvaluateJob(ctx context.Context, cvText, jobText string) (*ai.JobEvaluation, error) {
	prompt, err := buildEvaluationPrompt(cvText, jobText)
	if err != nil {
		return nil, err
	}

	payload, err := s.completeJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return validateEvaluation(payload)
}

// completeJSON runs one budget-charged model call and the two-stage parse
// pipeline: strict parse, substring recovery, then a single paid repair
// round-trip at zero temperature.
func (s *Service) completeJSON(ctx context.Context, prompt string) (map[string]any, error) {
	raw, err := s.callModel(ctx, prompt)
	if err != nil {
		return nil, err
	}

	payload, parseErr := parsePayload(raw)
	if parseErr == nil {
		return payload, nil
	}

	s.logger.Warn("malformed model response, requesting repair", zap.Error(parseErr))

	return s.repair(ctx, prompt, raw)
}

func (s *Service) callModel(ctx context.Context, prompt string) (string, error) {
	if !s.budget.CanCallModel() {
		return "", &budget.ExceededError{Resource: budget.ResourceModelCalls}
	}
	s.budget.RecordModelCall()

	s.logger.Debug("model request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, s.maxLogLen)),
		zap.Int("model_calls_used", s.budget.ModelCallsUsed()),
	)

	raw, err := s.generator.GenerateContent(ctx, systemPrompt, prompt)
	if err != nil {
		return "", err
	}

	s.logger.Debug("model response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, s.maxLogLen)),
	)

	return raw, nil
}

// repair issues one additional budget-charged call instructing the model to
// fix its own malformed output, then applies the same parse logic once more.
func (s *Service) repair(ctx context.Context, prompt, malformed string) (map[string]any, error) {
	if !s.budget.CanCallModel() {
		return nil, &budget.ExceededError{Resource: budget.ResourceModelCalls}
	}
	s.budget.RecordModelCall()

	repairPrompt := fmt.Sprintf(
		"You must output ONLY valid JSON that matches the output schema. "+
			"Do not include extra text. Fix this response and return JSON only.\n\n"+
			"Response: %s\n\nOriginal prompt: %s",
		malformed, prompt,
	)

	fixed, err := s.generator.GenerateContentWithTemperature(ctx, systemPrompt, repairPrompt, 0)
	if err != nil {
		return nil, fmt.Errorf("repair call: %w", err)
	}

	payload, parseErr := parsePayload(fixed)
	if parseErr != nil {
		return nil, fmt.Errorf("repair response still malformed: %w", parseErr)
	}

	return payload, nil
}

type queryPromptPayload struct {
	Task         string            `json:"task"`
	Context      *ai.RunContext    `json:"context"`
	History      []ai.QueryOutcome `json:"history"`
	OutputSchema map[string]any    `json:"output_schema"`
	Rules        []string          `json:"rules"`
}

type evaluationPromptPayload struct {
	Task           string         `json:"task"`
	CV             string         `json:"cv"`
	JobDescription string         `json:"job_description"`
	OutputSchema   map[string]any `json:"output_schema"`
	Rules          []string       `json:"rules"`
}

func buildQueryPrompt(runCtx *ai.RunContext, history []ai.QueryOutcome) (string, error) {
	if history == nil {
		history = []ai.QueryOutcome{}
	}

	payload := queryPromptPayload{
		Task:         "Generate search queries for job hunting.",
		Context:      runCtx,
		History:      history,
		OutputSchema: map[string]any{"queries": []string{"string"}},
		Rules: []string{
			"Return ONLY JSON.",
			"Do not include explanations.",
			"Only include the keys in the output_schema.",
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal query prompt: %w", err)
	}
	return string(data), nil
}

func buildEvaluationPrompt(cvText, jobText string) (string, error) {
	payload := evaluationPromptPayload{
		Task:           "Evaluate job relevance to the CV.",
		CV:             cvText,
		JobDescription: jobText,
		OutputSchema:   map[string]any{"score": 0, "reason": "string"},
		Rules: []string{
			"Return ONLY JSON.",
			"Do not include explanations.",
			"score must be an integer 0-100.",
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal evaluation prompt: %w", err)
	}
	return string(data), nil
}
