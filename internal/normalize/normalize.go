// Package normalize converts the MoneyForward CSV export into a canonical
// record set: known headers are renamed, dates, amounts and transfer flags
// are parsed, unknown columns are dropped and the columns are reordered.
package normalize

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/infrastructure"
)

// DateLayout is the source date format.
const DateLayout = "2006/01/02"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// headerAliases maps every observed header spelling to its canonical name.
var headerAliases = map[string]string{
	"日付":     ColDate,
	"内容":     ColItem,
	"金額":     ColAmount,
	"金額（円）":  ColAmount,
	"金額(円)":  ColAmount,
	"保有金融機関": ColAccount,
	"大項目":    ColCategory,
	"中項目":    ColSubcategory,
	"メモ":     ColNote,
	"振替":     ColTransfer,
}

var maxInt64 = decimal.NewFromInt(math.MaxInt64)
var minInt64 = decimal.NewFromInt(math.MinInt64)

// Normalizer reads exports in a fixed source encoding.
type Normalizer struct {
	encoding encoding.Encoding
	name     string
	logger   *slog.Logger
}

// New resolves encodingName through the WHATWG encoding index.
func New(encodingName string, logger *slog.Logger) (*Normalizer, error) {
	enc, err := htmlindex.Get(encodingName)
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("unsupported encoding %q", encodingName), err)
	}
	return &Normalizer{
		encoding: enc,
		name:     encodingName,
		logger:   infrastructure.WithComponent(logger, "normalize"),
	}, nil
}

// Normalize reads the CSV at path.
func (n *Normalizer) Normalize(path string) (*RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewNormalizationError("cannot open export file", err).WithContext("file", path)
	}
	defer f.Close()

	rs, err := n.Read(f)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			appErr.WithContext("file", path)
		}
		return nil, err
	}

	n.logger.Info("CSV normalized",
		slog.String("file", path),
		slog.Int("records", len(rs.Records)),
		slog.Any("columns", rs.Columns),
		slog.Int("null_cells", rs.NullCount()))
	return rs, nil
}

// Read normalizes CSV content. A UTF-8 byte order mark overrides the
// configured encoding.
func (n *Normalizer) Read(r io.Reader) (*RecordSet, error) {
	br := bufio.NewReader(r)
	var src io.Reader = transform.NewReader(br, n.encoding.NewDecoder())
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
		src = br
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.NewNormalizationError("export file is empty", nil)
	}
	if err != nil {
		return nil, apperrors.NewNormalizationError(fmt.Sprintf("cannot read header as %s CSV", n.name), err)
	}

	index := mapHeader(header)
	if len(index) == 0 {
		return nil, apperrors.NewNormalizationError("no recognized column in header", nil).
			WithContext("header", strings.Join(header, ","))
	}

	rs := &RecordSet{Nulls: make(map[string]int)}
	for _, col := range PreferredOrder {
		if _, ok := index[col]; ok {
			rs.Columns = append(rs.Columns, col)
		}
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			appErr := apperrors.NewNormalizationError("malformed CSV row", err)
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				appErr.WithContext("line", pe.Line)
			}
			return nil, appErr
		}
		rs.Records = append(rs.Records, n.record(row, index, rs.Nulls))
	}
	return rs, nil
}

// mapHeader returns the source column index of each canonical column. The
// first matching spelling wins.
func mapHeader(header []string) map[string]int {
	index := make(map[string]int)
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		col, ok := headerAliases[h]
		if !ok {
			continue
		}
		if _, seen := index[col]; !seen {
			index[col] = i
		}
	}
	return index
}

func (n *Normalizer) record(row []string, index map[string]int, nulls map[string]int) Record {
	cell := func(col string) (string, bool) {
		i, ok := index[col]
		if !ok {
			return "", false
		}
		if i >= len(row) {
			return "", true
		}
		return strings.TrimSpace(row[i]), true
	}

	var rec Record
	if v, ok := cell(ColDate); ok {
		if rec.Date = ParseDate(v); rec.Date == nil {
			nulls[ColDate]++
		}
	}
	if v, ok := cell(ColAmount); ok {
		if rec.Amount = ParseAmount(v); rec.Amount == nil {
			nulls[ColAmount]++
			if v != "" {
				n.logger.Debug("Unparsable amount", slog.String("value", v))
			}
		}
	}
	if v, ok := cell(ColTransfer); ok {
		if rec.Transfer = ParseTransfer(v); rec.Transfer == nil {
			nulls[ColTransfer]++
		}
	}
	rec.Item, _ = cell(ColItem)
	rec.Account, _ = cell(ColAccount)
	rec.Category, _ = cell(ColCategory)
	rec.Subcategory, _ = cell(ColSubcategory)
	rec.Note, _ = cell(ColNote)
	return rec
}

// ParseDate parses a YYYY/MM/DD date; nil on failure.
func ParseDate(s string) *time.Time {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}

// ParseAmount strips grouping separators, spaces and a yen sign and parses
// an integer; nil when empty, fractional or unparsable.
func ParseAmount(s string) *int64 {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '\t':
			return -1
		}
		return r
	}, s)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	} else {
		s = strings.TrimPrefix(s, "+")
	}
	s = strings.TrimPrefix(s, "¥")
	s = strings.TrimPrefix(s, "\\")
	if s == "" {
		return nil
	}

	d, err := decimal.NewFromString(sign + s)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return nil
	}
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return nil
	}
	v := d.IntPart()
	return &v
}

// ParseTransfer accepts 1/0 and true/false; nil otherwise.
func ParseTransfer(s string) *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		v = true
	case "0", "false":
		v = false
	default:
		return nil
	}
	return &v
}
