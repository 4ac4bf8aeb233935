package restils

import (
	"log/slog"

	"github.com/open-sspm/open-ils/internal/connectors/configstore"
	"github.com/open-sspm/open-ils/internal/ils"
)

type Definition struct{}

func NewDefinition() *Definition {
	return &Definition{}
}

func (d *Definition) Kind() string {
	return configstore.KindREST
}

func (d *Definition) DisplayName() string {
	return "REST catalog"
}

func (d *Definition) New(logger *slog.Logger) ils.Connector {
	return New(logger)
}
