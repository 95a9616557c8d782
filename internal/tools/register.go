package tools

import (
	"github.com/fortunamind/persistgate/internal/domain/security"
	"github.com/fortunamind/persistgate/internal/domain/storage"
	"github.com/fortunamind/persistgate/internal/domain/tool"
)

// RegisterAll wires every built-in tool into the registry. source may be
// nil when no upstream exchange is configured; the market tools are then
// not registered and never appear in discovery. scanner may be nil to
// store content unscreened.
func RegisterAll(reg *tool.Registry, backend storage.Backend, source MarketDataSource, scanner *security.Scanner) error {
	var all []tool.Tool
	all = append(all, NewJournalTools(backend, scanner).All()...)
	all = append(all, NewPreferenceTools(backend).All()...)
	all = append(all, NewRecordTools(backend, scanner).All()...)
	all = append(all, NewStatsTool(backend))
	if source != nil {
		all = append(all, NewPriceTool(source), NewPortfolioTool(source))
	}

	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
