package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/authz"
	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

// ImportStep represents a single step in the import pipeline.
type ImportStep interface {
	Execute(ctx context.Context, state *ImportState) error
}

// ImportState holds the shared state across all import steps.
type ImportState struct {
	Caller  authz.Caller
	Source  string
	Entries []domain.ParsedEntry
	Staged  []*domain.StagedEntry
}

// Step 1: AuthorizeStep rejects callers that may not stage entries before
// anything is read.
type AuthorizeStep struct {
	service *Service
}

func (s *AuthorizeStep) Execute(ctx context.Context, state *ImportState) error {
	return s.service.authorize(ctx, state.Caller, authz.ActionStage)
}

// Step 2: LoadEntriesStep reads the parsed entries from the source.
type LoadEntriesStep struct {
	loader EntryLoader
}

func (s *LoadEntriesStep) Execute(ctx context.Context, state *ImportState) error {
	entries, err := s.loader.Load(ctx, state.Source)
	if err != nil {
		return err
	}
	state.Entries = entries
	return nil
}

// Step 3: StageEntriesStep stages the loaded entries for review.
type StageEntriesStep struct {
	service *Service
}

func (s *StageEntriesStep) Execute(ctx context.Context, state *ImportState) error {
	staged, err := s.service.StageBatch(ctx, state.Caller, state.Entries)
	if err != nil {
		return err
	}
	state.Staged = staged
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []ImportStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...ImportStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *ImportState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("import step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewImportPipeline creates the standard pipeline for importing a parsed
// statement.
func (s *Service) NewImportPipeline(loader EntryLoader) *Pipeline {
	return NewPipeline(
		&AuthorizeStep{service: s},
		&LoadEntriesStep{loader: loader},
		&StageEntriesStep{service: s},
	)
}

// Import loads the entries at source and stages them.
func (s *Service) Import(ctx context.Context, c authz.Caller, source string, loader EntryLoader) ([]*domain.StagedEntry, error) {
	log := logger.FromContext(ctx)

	state := &ImportState{Caller: c, Source: source}
	if err := s.NewImportPipeline(loader).Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("Import %s: %w", source, err)
	}

	log.Info().
		Int64("tenant_id", c.TenantID).
		Str("source", source).
		Int("staged", len(state.Staged)).
		Msg("Imported statement")
	return state.Staged, nil
}
