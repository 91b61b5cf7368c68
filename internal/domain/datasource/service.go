package datasource

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo   Repository
	tx     Transactor
	logger zerolog.Logger
}

func NewService(repo Repository, tx Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, tx: tx, logger: logger.With().Str("component", "datasource").Logger()}
}

func (s *Service) List(ctx context.Context) ([]*DataSource, error) {
	return s.repo.List(ctx)
}

// AllScopes returns every known scope code ordered by text.
func (s *Service) AllScopes(ctx context.Context) ([]ScopeCode, error) {
	return s.repo.ListScopeCodes(ctx)
}

// SeedResult counts what a seed run upserted.
type SeedResult struct {
	ScopeCodes      int `json:"scope_codes"`
	DataSources     int `json:"data_sources"`
	SupportedScopes int `json:"supported_scopes"`
}

// Seed upserts the catalog in one transaction. Existing rows keep their ids;
// supported scopes are only ever added.
func (s *Service) Seed(ctx context.Context, c *Catalog) (SeedResult, error) {
	var res SeedResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		res = SeedResult{}
		byCode := make(map[string]*ScopeCode, len(c.ScopeCodes))
		for i := range c.ScopeCodes {
			sc := c.ScopeCodes[i]
			if err := s.repo.UpsertScopeCode(ctx, &sc); err != nil {
				return fmt.Errorf("upsert scope %s: %w", sc.CodingCode, err)
			}
			byCode[sc.CodingCode] = &sc
			res.ScopeCodes++
		}
		for _, src := range c.DataSources {
			ds := &DataSource{Name: src.Name, Type: src.Type}
			if err := s.repo.UpsertDataSource(ctx, ds); err != nil {
				return fmt.Errorf("upsert data source %s: %w", src.Name, err)
			}
			res.DataSources++
			for _, code := range src.Scopes {
				sc, ok := byCode[code]
				if !ok {
					return fmt.Errorf("%w: unknown scope %q", ErrInvalidCatalog, code)
				}
				if err := s.repo.AddSupportedScope(ctx, ds.ID, sc.ID); err != nil {
					return fmt.Errorf("add scope %s to %s: %w", code, src.Name, err)
				}
				res.SupportedScopes++
			}
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	s.logger.Info().
		Int("scope_codes", res.ScopeCodes).
		Int("data_sources", res.DataSources).
		Int("supported_scopes", res.SupportedScopes).
		Msg("catalog seeded")
	return res, nil
}
