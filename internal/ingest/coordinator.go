package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finscreen/internal/db"
	"github.com/sells-group/finscreen/internal/normalize"
	"github.com/sells-group/finscreen/internal/refdata"
)

// ApplyResult summarizes one committed symbol.
type ApplyResult struct {
	CompanyID        int64    `json:"company_id"`
	Officers         int      `json:"officers"`
	BalanceSheetRows int      `json:"balance_sheet_rows"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Coordinator writes a normalized bundle in one transaction.
type Coordinator struct {
	pool     db.Pool
	resolver *refdata.Resolver
	now      func() time.Time
}

// NewCoordinator creates a Coordinator writing through pool.
func NewCoordinator(pool db.Pool, resolver *refdata.Resolver) *Coordinator {
	return &Coordinator{pool: pool, resolver: resolver, now: time.Now}
}

// dimensionIDs holds the resolved references for one bundle.
type dimensionIDs struct {
	sector, industry, exchange, currency, financialCurrency *refdata.Ref
}

func (d dimensionIDs) all() []*refdata.Ref {
	return []*refdata.Ref{d.sector, d.industry, d.exchange, d.currency, d.financialCurrency}
}

func refID(r *refdata.Ref) any {
	if r == nil {
		return nil
	}
	return r.ID
}

// Apply upserts everything in b: dimensions, company by symbol, one-per-company
// facts by company_id, officers by (company_id, name), compensation by
// officer_id and balance-sheet rows by (company_id, date). Any failure rolls
// back the whole symbol and is returned as a *PersistenceError.
func (c *Coordinator) Apply(ctx context.Context, b *normalize.Bundle) (*ApplyResult, error) {
	log := zap.L().With(zap.String("component", "ingest.coordinator"), zap.String("symbol", b.Symbol))

	var (
		dims dimensionIDs
		res  ApplyResult
	)
	err := db.WithTx(ctx, c.pool, func(tx pgx.Tx) error {
		var err error
		if dims, err = c.resolveDimensions(ctx, tx, b.Labels); err != nil {
			return err
		}

		if res.CompanyID, err = upsertCompany(ctx, tx, b.Company, dims); err != nil {
			return err
		}

		if err := c.upsertFacts(ctx, tx, res.CompanyID, b, dims); err != nil {
			return err
		}

		if res.Officers, err = upsertOfficers(ctx, tx, res.CompanyID, b.Officers); err != nil {
			return err
		}

		res.BalanceSheetRows, err = upsertBalanceSheet(ctx, tx, res.CompanyID, b.BalanceSheet)
		return err
	})
	if err != nil {
		return nil, &PersistenceError{Symbol: b.Symbol, Err: err}
	}

	c.resolver.Remember(dims.all()...)
	res.Warnings = b.Warnings

	log.Debug("bundle committed",
		zap.Int64("company_id", res.CompanyID),
		zap.Int("officers", res.Officers),
		zap.Int("balance_sheet_rows", res.BalanceSheetRows),
		zap.Int("warnings", len(res.Warnings)),
	)
	return &res, nil
}

func (c *Coordinator) resolveDimensions(ctx context.Context, tx pgx.Tx, l normalize.Labels) (dimensionIDs, error) {
	seen := make(map[string]*refdata.Ref)
	resolve := func(kind refdata.Kind, label *string) (*refdata.Ref, error) {
		key := kind.String() + "\x00" + refdata.Canonical(label)
		if ref, ok := seen[key]; ok {
			return ref, nil
		}
		ref, err := c.resolver.Resolve(ctx, tx, kind, label)
		if err != nil {
			return nil, err
		}
		seen[key] = ref
		return ref, nil
	}

	var (
		d   dimensionIDs
		err error
	)
	if d.sector, err = resolve(refdata.Sector, l.Sector); err != nil {
		return d, err
	}
	if d.industry, err = resolve(refdata.Industry, l.Industry); err != nil {
		return d, err
	}
	if d.exchange, err = resolve(refdata.Exchange, l.Exchange); err != nil {
		return d, err
	}

	// Labels sharing a table are resolved in canonical order so concurrent
	// transactions take unique-index locks in the same order.
	currencies := []struct {
		label *string
		dst   **refdata.Ref
	}{
		{l.Currency, &d.currency},
		{l.FinancialCurrency, &d.financialCurrency},
	}
	sort.SliceStable(currencies, func(i, j int) bool {
		return refdata.Canonical(currencies[i].label) < refdata.Canonical(currencies[j].label)
	})
	for _, c := range currencies {
		if *c.dst, err = resolve(refdata.Currency, c.label); err != nil {
			return d, err
		}
	}
	return d, nil
}

func upsertCompany(ctx context.Context, tx pgx.Tx, company normalize.Company, dims dimensionIDs) (int64, error) {
	cols, vals := normalize.Row(company)
	cols = append(cols, "sector_id", "industry_id", "exchange_id", "currency_id")
	vals = append(vals, refID(dims.sector), refID(dims.industry), refID(dims.exchange), refID(dims.currency))

	return db.UpsertRow(ctx, tx, db.UpsertConfig{
		Table:        "company",
		Columns:      cols,
		ConflictKeys: []string{"symbol"},
	}, vals)
}

// upsertFacts replaces the one-per-company rows, NULLs included.
func (c *Coordinator) upsertFacts(ctx context.Context, tx pgx.Tx, companyID int64, b *normalize.Bundle, dims dimensionIDs) error {
	price := b.StockPrice
	if price.Date == nil {
		now := c.now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		price.Date = &today
	}

	facts := []struct {
		table string
		rec   any
		extra map[string]any
	}{
		{"address", b.Address, nil},
		{"stock_price", price, nil},
		{"company_financials", b.Financials, map[string]any{"currency_id": refID(dims.financialCurrency)}},
		{"dividend", b.Dividend, nil},
		{"risk_metrics", b.Risk, nil},
	}

	for _, f := range facts {
		cols, vals := normalize.Row(f.rec)
		cols = append([]string{"company_id"}, cols...)
		vals = append([]any{companyID}, vals...)
		for col, v := range f.extra {
			cols = append(cols, col)
			vals = append(vals, v)
		}
		if _, err := db.UpsertRow(ctx, tx, db.UpsertConfig{
			Table:        f.table,
			Columns:      cols,
			ConflictKeys: []string{"company_id"},
		}, vals); err != nil {
			return err
		}
	}
	return nil
}

func upsertOfficers(ctx context.Context, tx pgx.Tx, companyID int64, officers []normalize.OfficerRecord) (int, error) {
	for _, o := range officers {
		cols, vals := normalize.Row(o.Officer)
		officerID, err := db.UpsertRow(ctx, tx, db.UpsertConfig{
			Table:        "officer",
			Columns:      append([]string{"company_id"}, cols...),
			ConflictKeys: []string{"company_id", "name"},
		}, append([]any{companyID}, vals...))
		if err != nil {
			return 0, eris.Wrapf(err, "ingest: officer %q", o.Officer.Name)
		}

		cols, vals = normalize.Row(o.Compensation)
		if _, err := db.UpsertRow(ctx, tx, db.UpsertConfig{
			Table:        "officer_compensation",
			Columns:      append([]string{"officer_id"}, cols...),
			ConflictKeys: []string{"officer_id"},
		}, append([]any{officerID}, vals...)); err != nil {
			return 0, eris.Wrapf(err, "ingest: compensation for %q", o.Officer.Name)
		}
	}
	return len(officers), nil
}

func upsertBalanceSheet(ctx context.Context, tx pgx.Tx, companyID int64, rows []normalize.BalanceSheetRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	var cols []string
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		rc, vals := normalize.Row(r)
		cols = rc
		data = append(data, append([]any{companyID}, vals...))
	}

	if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
		Table:        "balance_sheet",
		Columns:      append([]string{"company_id"}, cols...),
		ConflictKeys: []string{"company_id", "date"},
	}, data); err != nil {
		return 0, err
	}
	return len(rows), nil
}
