package normalize

import (
	"strconv"
	"time"
)

// Canonical column names in their preferred order.
const (
	ColDate        = "date"
	ColItem        = "item"
	ColAmount      = "amount"
	ColAccount     = "account"
	ColCategory    = "category"
	ColSubcategory = "subcategory"
	ColNote        = "note"
	ColTransfer    = "transfer"
)

// PreferredOrder is the canonical column order.
var PreferredOrder = []string{ColDate, ColItem, ColAmount, ColAccount, ColCategory, ColSubcategory, ColNote, ColTransfer}

// Record is one normalized row. Pointer fields are nil when the source cell
// was empty or could not be parsed.
type Record struct {
	Date        *time.Time
	Item        string
	Amount      *int64
	Account     string
	Category    string
	Subcategory string
	Note        string
	Transfer    *bool
}

// Value renders a column as text for spreadsheets and CSV output.
func (r Record) Value(col string) string {
	switch col {
	case ColDate:
		if r.Date == nil {
			return ""
		}
		return r.Date.Format("2006-01-02")
	case ColItem:
		return r.Item
	case ColAmount:
		if r.Amount == nil {
			return ""
		}
		return strconv.FormatInt(*r.Amount, 10)
	case ColAccount:
		return r.Account
	case ColCategory:
		return r.Category
	case ColSubcategory:
		return r.Subcategory
	case ColNote:
		return r.Note
	case ColTransfer:
		if r.Transfer == nil {
			return ""
		}
		return strconv.FormatBool(*r.Transfer)
	}
	return ""
}

// RecordSet is the normalized table. Columns lists only the canonical
// columns present in the source, in PreferredOrder.
type RecordSet struct {
	Columns []string
	Records []Record
	// Nulls counts nil cells per typed column.
	Nulls map[string]int
}

// Values returns the header row followed by one text row per record.
func (rs *RecordSet) Values() [][]string {
	out := make([][]string, 0, len(rs.Records)+1)
	out = append(out, append([]string(nil), rs.Columns...))
	for _, r := range rs.Records {
		row := make([]string, len(rs.Columns))
		for i, col := range rs.Columns {
			row[i] = r.Value(col)
		}
		out = append(out, row)
	}
	return out
}

// NullCount sums Nulls.
func (rs *RecordSet) NullCount() int {
	n := 0
	for _, c := range rs.Nulls {
		n += c
	}
	return n
}

// Has reports whether col is present.
func (rs *RecordSet) Has(col string) bool {
	for _, c := range rs.Columns {
		if c == col {
			return true
		}
	}
	return false
}
