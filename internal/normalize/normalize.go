// Package normalize maps a loosely-typed provider payload onto the relational
// entity model. It performs no I/O.
package normalize

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Payload keys that carry nested structures.
const (
	keySymbol       = "symbol"
	keyOfficers     = "companyOfficers"
	keyBalanceSheet = "balanceSheet"
	keyOfficerName  = "name"
)

// Widths of the company.symbol and officer.name columns.
const (
	maxSymbolLen      = 50
	maxOfficerNameLen = 255
)

var (
	// ErrNoSymbol means neither the caller nor the payload named the security.
	ErrNoSymbol = eris.New("normalize: payload has no symbol")
	// ErrSymbolMismatch means the payload describes a different security.
	ErrSymbolMismatch = eris.New("normalize: payload symbol does not match request")
	// ErrSymbolTooLong means the symbol cannot be stored as a business key.
	ErrSymbolTooLong = eris.New("normalize: symbol too long")
)

// Normalize converts one provider payload into a Bundle. symbol is the
// requested business key; the payload's own symbol, when present, must agree.
func Normalize(symbol string, payload map[string]any) (*Bundle, error) {
	sym, err := businessKey(symbol, payload)
	if err != nil {
		return nil, err
	}

	var w warnings
	b := &Bundle{Symbol: sym}

	decode(&b.Company, payload, &w)
	decode(&b.Labels, payload, &w)
	decode(&b.Address, payload, &w)
	decode(&b.StockPrice, payload, &w)
	decode(&b.Financials, payload, &w)
	decode(&b.Dividend, payload, &w)
	decode(&b.Risk, payload, &w)

	b.Company.Symbol = sym
	b.Company.Name = firstNonEmpty(b.Company.LongName, b.Company.ShortName, &sym)

	b.Officers = officers(payload[keyOfficers], &w)
	b.BalanceSheet = balanceSheet(payload[keyBalanceSheet], &w)
	b.Warnings = w

	return b, nil
}

func businessKey(requested string, payload map[string]any) (string, error) {
	requested = CanonicalSymbol(requested)

	var fromPayload string
	if s, ok := payload[keySymbol].(string); ok {
		fromPayload = CanonicalSymbol(s)
	}

	key := requested
	switch {
	case requested == "" && fromPayload == "":
		return "", ErrNoSymbol
	case requested == "":
		key = fromPayload
	case fromPayload != "" && fromPayload != requested:
		return "", eris.Wrapf(ErrSymbolMismatch, "requested %s, payload %s", requested, fromPayload)
	}
	if utf8.RuneCountInString(key) > maxSymbolLen {
		return "", eris.Wrapf(ErrSymbolTooLong, "%d characters", utf8.RuneCountInString(key))
	}
	return key, nil
}

// CanonicalSymbol trims and upper-cases a ticker symbol.
func CanonicalSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func firstNonEmpty(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}

// officers decodes the officer list. Entries without a name are skipped;
// a repeated name keeps its last occurrence.
func officers(raw any, w *warnings) []OfficerRecord {
	if raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		w.addf("%s: expected list, got %T", keyOfficers, raw)
		return nil
	}

	var out []OfficerRecord
	pos := make(map[string]int, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			w.addf("%s[%d]: expected object, got %T", keyOfficers, i, item)
			continue
		}
		name, err := toText(obj[keyOfficerName], maxOfficerNameLen)
		if obj[keyOfficerName] == nil || err == errBlank {
			w.addf("%s[%d]: skipped officer without name", keyOfficers, i)
			continue
		}
		if err != nil {
			w.addf("%s[%d]: skipped officer: name: %v", keyOfficers, i, err)
			continue
		}

		rec := OfficerRecord{Officer: Officer{Name: name}}
		decode(&rec.Officer, obj, w)
		decode(&rec.Compensation, obj, w)

		if j, seen := pos[name]; seen {
			out[j] = rec
			continue
		}
		pos[name] = len(out)
		out = append(out, rec)
	}
	return out
}

// balanceSheet decodes the date-keyed report map into rows ordered by date.
func balanceSheet(raw any, w *warnings) []BalanceSheetRow {
	if raw == nil {
		return nil
	}
	reports, ok := raw.(map[string]any)
	if !ok {
		w.addf("%s: expected object, got %T", keyBalanceSheet, raw)
		return nil
	}

	keys := make([]string, 0, len(reports))
	for key := range reports {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]BalanceSheetRow, 0, len(reports))
	for _, key := range keys {
		item := reports[key]
		date, err := parseDate(key)
		if err != nil {
			w.addf("%s: %v", keyBalanceSheet, err)
			continue
		}
		items, ok := item.(map[string]any)
		if !ok {
			w.addf("%s[%s]: expected object, got %T", keyBalanceSheet, key, item)
			continue
		}
		row := BalanceSheetRow{Date: *date}
		decode(&row, items, w)
		out = append(out, row)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	// Two keys may name the same day (e.g. date and timestamp forms).
	deduped := out[:0]
	for _, row := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Date.Equal(row.Date) {
			deduped[n-1] = row
			continue
		}
		deduped = append(deduped, row)
	}
	return deduped
}
