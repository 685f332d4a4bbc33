package gateway

import (
	"context"
	"log/slog"

	"github.com/qiuyan86/antigravity-gateway/internal/antigravity"
	"github.com/qiuyan86/antigravity-gateway/internal/catalog"
	"github.com/qiuyan86/antigravity-gateway/internal/metrics"
	"github.com/qiuyan86/antigravity-gateway/internal/translate"
)

// Service is the gateway's core surface: it drives the
// translate → dispatch → artifact-resolution pipeline for chat requests and
// serves the derived model catalog.
type Service struct {
	builder    *translate.Builder
	dispatcher *antigravity.Dispatcher
	catalog    *catalog.Catalog
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(builder *translate.Builder, dispatcher *antigravity.Dispatcher, cat *catalog.Catalog, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		builder:    builder,
		dispatcher: dispatcher,
		catalog:    cat,
		metrics:    m,
		logger:     logger,
	}
}

// SubmitChat runs one chat request end-to-end, streaming events to onEvent.
// It returns after every event, including deferred artifact-URL events, has
// been delivered.
func (s *Service) SubmitChat(ctx context.Context, req *ChatCompletionRequest, source antigravity.CredentialSource, onEvent func(antigravity.StreamEvent)) error {
	body, err := s.builder.BuildRequest(ctx, req.Messages, req.Model, req.Parameters, req.Tools)
	if err != nil {
		s.metrics.RequestCompleted("translate_error")
		return err
	}

	err = s.dispatcher.Generate(ctx, antigravity.Job{
		Request: body,
		Model:   req.Model,
		Source:  source,
	}, onEvent)
	if err != nil {
		s.metrics.RequestCompleted("error")
		return err
	}
	s.metrics.RequestCompleted("ok")
	return nil
}

// ListModels returns the current model catalog.
func (s *Service) ListModels(ctx context.Context, source antigravity.CredentialSource) (*catalog.ModelList, error) {
	return s.catalog.List(ctx, source)
}
