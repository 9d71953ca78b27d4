package core

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/importer/internal/logging"
)

// Importer runs template generation, validation and import jobs for one
// module. Importers share the Service's stores.
type Importer struct {
	svc       *Service
	cfg       ModuleConfig
	validator *RowValidator
}

func newImporter(svc *Service, cfg ModuleConfig) *Importer {
	return &Importer{
		svc:       svc,
		cfg:       cfg,
		validator: NewRowValidator(cfg),
	}
}

// Config returns the module configuration.
func (im *Importer) Config() ModuleConfig {
	return im.cfg
}

// GenerateTemplate renders the module's import template.
func (im *Importer) GenerateTemplate(opts TemplateOptions) ([]byte, error) {
	return GenerateTemplate(im.cfg, opts)
}

func (im *Importer) logger(ctx context.Context, args ...any) *slog.Logger {
	return loggerFor(ctx, im.cfg.Name).With(args...)
}

func loggerFor(ctx context.Context, module string) *slog.Logger {
	return logging.WithFields(ctx, "module", module)
}
