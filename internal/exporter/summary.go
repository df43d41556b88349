package exporter

import (
	"sort"

	"github.com/ino-taku/mf-importer/internal/normalize"
)

// Uncategorized labels records without a category.
const Uncategorized = "未分類"

// CategorySummary totals the amounts of one category.
type CategorySummary struct {
	Category string
	Count    int
	Income   int64
	Expense  int64
	Net      int64
	// Missing counts records whose amount could not be parsed.
	Missing int
}

// Summarize groups records by category, sorted by category name. Transfers
// move money between accounts and are left out.
func Summarize(rs *normalize.RecordSet) []CategorySummary {
	byCategory := make(map[string]*CategorySummary)
	for _, r := range rs.Records {
		if r.Transfer != nil && *r.Transfer {
			continue
		}
		name := r.Category
		if name == "" {
			name = Uncategorized
		}
		s, ok := byCategory[name]
		if !ok {
			s = &CategorySummary{Category: name}
			byCategory[name] = s
		}
		s.Count++
		if r.Amount == nil {
			s.Missing++
			continue
		}
		if *r.Amount >= 0 {
			s.Income += *r.Amount
		} else {
			s.Expense += -*r.Amount
		}
		s.Net += *r.Amount
	}

	summaries := make([]CategorySummary, 0, len(byCategory))
	for _, s := range byCategory {
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Category < summaries[j].Category
	})
	return summaries
}

func summaryHeaders() []interface{} {
	return []interface{}{"category", "count", "income", "expense", "net", "missing_amounts"}
}

func summaryRow(s CategorySummary) []interface{} {
	return []interface{}{s.Category, s.Count, s.Income, s.Expense, s.Net, s.Missing}
}
