// Package refdata resolves dimension labels (sector, industry, exchange,
// currency) to surrogate ids, creating rows on first sight.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alphadose/haxmap"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/finscreen/internal/db"
)

// Kind identifies a dimension table.
type Kind int

const (
	Sector Kind = iota
	Industry
	Exchange
	Currency
)

type dimension struct {
	name   string
	table  string
	column string
}

var dimensions = map[Kind]dimension{
	Sector:   {"sector", "sector", "sector_name"},
	Industry: {"industry", "industry", "industry_name"},
	Exchange: {"exchange", "exchange", "exchange_name"},
	Currency: {"currency", "currency", "currency_code"},
}

func (k Kind) String() string {
	if d, ok := dimensions[k]; ok {
		return d.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrUnresolved is returned when a label can be neither inserted nor found,
// which only happens if a conflicting row disappears between statements.
var ErrUnresolved = eris.New("refdata: label vanished after insert conflict")

// Ref is a resolved dimension reference.
type Ref struct {
	Kind  Kind
	Label string
	ID    int64
}

// Resolver maps labels to ids. Its cache holds only ids known to be
// committed; callers add to it with Remember after their transaction commits.
type Resolver struct {
	cache *haxmap.Map[string, int64]
	log   *zap.Logger
}

// NewResolver creates a Resolver with an empty cache.
func NewResolver() *Resolver {
	return &Resolver{
		cache: haxmap.New[string, int64](),
		log:   zap.L().With(zap.String("component", "refdata")),
	}
}

// Canonical trims and NFC-normalizes a label. Blank labels yield "".
func Canonical(label *string) string {
	if label == nil {
		return ""
	}
	return norm.NFC.String(strings.TrimSpace(*label))
}

// Resolve returns the reference for label, inserting the dimension row when
// it does not exist yet. A nil or blank label resolves to nil: no row is
// created and the foreign key stays NULL.
func (r *Resolver) Resolve(ctx context.Context, q db.Querier, kind Kind, label *string) (*Ref, error) {
	dim, ok := dimensions[kind]
	if !ok {
		return nil, eris.Errorf("refdata: unknown kind %d", int(kind))
	}

	canon := Canonical(label)
	if canon == "" {
		return nil, nil
	}

	if id, ok := r.cache.Get(cacheKey(kind, canon)); ok {
		return &Ref{Kind: kind, Label: canon, ID: id}, nil
	}

	id, err := insertOrFetch(ctx, q, dim, canon)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent transaction committed the same label after this
		// statement's snapshot; a fresh statement sees it.
		r.log.Debug("dimension insert lost race, refetching",
			zap.String("kind", dim.name), zap.String("label", canon))
		id, err = fetch(ctx, q, dim, canon)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrUnresolved, "%s %q", dim.name, canon)
		}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "refdata: resolve %s %q", dim.name, canon)
	}

	return &Ref{Kind: kind, Label: canon, ID: id}, nil
}

// Remember caches committed references.
func (r *Resolver) Remember(refs ...*Ref) {
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		r.cache.Set(cacheKey(ref.Kind, ref.Label), ref.ID)
	}
}

// Cached reports how many references the cache holds.
func (r *Resolver) Cached() int {
	return int(r.cache.Len())
}

func cacheKey(kind Kind, label string) string {
	return kind.String() + "\x00" + label
}

func insertOrFetch(ctx context.Context, q db.Querier, dim dimension, label string) (int64, error) {
	sql := fmt.Sprintf(`WITH ins AS (
			INSERT INTO %[1]s (%[2]s) VALUES ($1)
			ON CONFLICT (%[2]s) DO NOTHING
			RETURNING id
		)
		SELECT id FROM ins
		UNION ALL
		SELECT id FROM %[1]s WHERE %[2]s = $1
		LIMIT 1`,
		pgx.Identifier{dim.table}.Sanitize(), pgx.Identifier{dim.column}.Sanitize())

	var id int64
	err := q.QueryRow(ctx, sql, label).Scan(&id)
	return id, err
}

func fetch(ctx context.Context, q db.Querier, dim dimension, label string) (int64, error) {
	sql := fmt.Sprintf("SELECT id FROM %s WHERE %s = $1",
		pgx.Identifier{dim.table}.Sanitize(), pgx.Identifier{dim.column}.Sanitize())

	var id int64
	err := q.QueryRow(ctx, sql, label).Scan(&id)
	return id, err
}
