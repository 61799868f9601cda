package fetcher

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"finreport/internal/apperr"
	"finreport/internal/models"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const NYFedTimeout = 30 * time.Second

// Sheet conventions of the NY Fed workbooks: the header sits on the fourth
// row and dates in the first column.
const (
	NYFedHeaderRow  = 3
	NYFedDateColumn = 0
)

// DefaultNYFedCatalog maps a symbol to its files, oldest first. Later files
// win where dates overlap.
var DefaultNYFedCatalog = map[string][]string{
	"SOFR": {"https://markets.newyorkfed.org/api/rates/secured/sofr/last/1000.xml"},
	"EFFR": {"https://markets.newyorkfed.org/api/rates/unsecured/effr/last/1000.xml"},
	"OBFR": {"https://markets.newyorkfed.org/api/rates/unsecured/obfr/last/1000.xml"},
	"PRIMARY_DEALER_POSITIONS": {
		"https://www.newyorkfed.org/medialibrary/media/markets/prideal/prideal2023.xlsx",
		"https://www.newyorkfed.org/medialibrary/media/markets/prideal/prideal2024.xlsx",
		"https://www.newyorkfed.org/medialibrary/media/markets/prideal/prideal2025.xlsx",
	},
}

// NYFed downloads the fixed set of public NY Fed files.
type NYFed struct {
	catalog   map[string][]string
	client    *http.Client
	timeout   time.Duration
	headerRow int
	dateCol   int
}

func NewNYFed(catalog map[string][]string, client *http.Client) *NYFed {
	if catalog == nil {
		catalog = DefaultNYFedCatalog
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &NYFed{
		catalog:   catalog,
		client:    client,
		timeout:   NYFedTimeout,
		headerRow: NYFedHeaderRow,
		dateCol:   NYFedDateColumn,
	}
}

func (n *NYFed) Source() models.Source { return models.SourceNYFed }

// point is one parsed row; value is nil when the row carried no number.
type point struct {
	value  *decimal.Decimal
	fields map[string]decimal.Decimal
}

func (n *NYFed) Fetch(ctx context.Context, params map[string]any) (*models.Dataset, error) {
	symbols := listParam(params, "symbol", "series_ids", "series_id")
	if len(symbols) == 0 {
		return nil, apperr.New(apperr.KindBadRequest, "ny_fed: symbol is required")
	}
	for _, sym := range symbols {
		if _, ok := n.catalog[sym]; !ok {
			return nil, apperr.Newf(apperr.KindBadRequest, "ny_fed: unknown symbol %q", sym)
		}
	}
	start, end, err := dateRange(params)
	if err != nil {
		return nil, err
	}

	ds := newDataset(models.SourceNYFed, symbols)
	merged := make(map[string]map[string]point, len(symbols))
	for _, sym := range symbols {
		byDate := map[string]point{}
		for _, fileURL := range n.catalog[sym] {
			body, err := httpGet(ctx, n.client, string(models.SourceNYFed), fileURL, n.timeout, nil)
			if err != nil {
				return nil, err
			}
			points, err := n.parseFile(fileURL, body)
			if err != nil {
				return nil, err
			}
			for date, p := range points {
				byDate[date] = p
			}
		}
		merged[sym] = filterDates(byDate, start, end)
	}
	for sym, obs := range alignAndFill(merged) {
		ds.Series[sym] = obs
	}
	return finish(ds, symbols), nil
}

func (n *NYFed) parseFile(fileURL string, body []byte) (map[string]point, error) {
	name := path.Base(fileURL)
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		return n.parseWorkbook(name, body)
	case ".xml":
		return parseRateXML(name, body)
	default:
		return nil, parseError(string(models.SourceNYFed), fmt.Sprintf("unsupported file type %s", name), nil)
	}
}

func (n *NYFed) parseWorkbook(name string, body []byte) (map[string]point, error) {
	source := string(models.SourceNYFed)
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, parseError(source, fmt.Sprintf("open workbook %s", name), err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, parseError(source, fmt.Sprintf("workbook %s has no sheets", name), nil)
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, parseError(source, fmt.Sprintf("read sheet of %s", name), err)
	}
	if len(rows) <= n.headerRow {
		return nil, parseError(source, fmt.Sprintf("workbook %s has no header row", name), nil)
	}
	header := rows[n.headerRow]

	out := map[string]point{}
	for _, row := range rows[n.headerRow+1:] {
		if n.dateCol >= len(row) {
			continue
		}
		date, ok := cellDate(row[n.dateCol])
		if !ok {
			continue
		}
		p := out[date]
		for j, cell := range row {
			if j == n.dateCol {
				continue
			}
			v, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(cell), ",", ""))
			if err != nil {
				continue
			}
			col := fmt.Sprintf("col%d", j)
			if j < len(header) && strings.TrimSpace(header[j]) != "" {
				col = strings.TrimSpace(header[j])
			}
			if p.fields == nil {
				p.fields = map[string]decimal.Decimal{}
			}
			// rows sharing a date are summed
			p.fields[col] = p.fields[col].Add(v)
			total := v
			if p.value != nil {
				total = p.value.Add(v)
			}
			p.value = &total
		}
		out[date] = p
	}
	return out, nil
}

// cellDate reads an Excel serial date or a textual date.
func cellDate(cell string) (string, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return "", false
	}
	if serial, err := strconv.ParseFloat(cell, 64); err == nil {
		if serial < 1 || serial > 2958465 {
			return "", false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return "", false
		}
		return t.Format("2006-01-02"), true
	}
	for _, layout := range []string{"2006-01-02", "01/02/2006", "1/2/2006", "01-02-06", "2006/01/02", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, cell); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

var (
	xmlDateTags  = []string{"effectiveDate", "asOfDate", "date", "Date"}
	xmlValueTags = []string{"percentRate", "rate", "value", "Value"}
)

// parseRateXML walks any element tree and collects records that carry a date
// child and a numeric value child.
func parseRateXML(name string, body []byte) (map[string]point, error) {
	var root xmlNode
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, parseError(string(models.SourceNYFed), fmt.Sprintf("malformed xml %s", name), err)
	}
	out := map[string]point{}
	var walk func(node *xmlNode)
	walk = func(node *xmlNode) {
		children := map[string]string{}
		for i := range node.Nodes {
			children[node.Nodes[i].XMLName.Local] = strings.TrimSpace(node.Nodes[i].Content)
		}
		date, ok := firstOf(children, xmlDateTags)
		if ok {
			if d, err := parseDate(date); err == nil {
				p := out[d.Format("2006-01-02")]
				if raw, ok := firstOf(children, xmlValueTags); ok {
					if v, err := decimal.NewFromString(raw); err == nil {
						total := v
						if p.value != nil {
							total = p.value.Add(v)
						}
						p.value = &total
					}
				}
				out[d.Format("2006-01-02")] = p
				return
			}
		}
		for i := range node.Nodes {
			walk(&node.Nodes[i])
		}
	}
	walk(&root)
	return out, nil
}

func firstOf(m map[string]string, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func filterDates(points map[string]point, start, end time.Time) map[string]point {
	if start.IsZero() && end.IsZero() {
		return points
	}
	out := make(map[string]point, len(points))
	for date, p := range points {
		if !start.IsZero() && date < start.Format("2006-01-02") {
			continue
		}
		if !end.IsZero() && date > end.Format("2006-01-02") {
			continue
		}
		out[date] = p
	}
	return out
}

// alignAndFill puts every series on the union of dates and forward-fills
// gaps. Dates before a series' first value stay absent.
func alignAndFill(series map[string]map[string]point) map[string][]models.Observation {
	union := map[string]struct{}{}
	for _, points := range series {
		for date := range points {
			union[date] = struct{}{}
		}
	}
	dates := make([]string, 0, len(union))
	for d := range union {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make(map[string][]models.Observation, len(series))
	for sym, points := range series {
		var (
			obs        []models.Observation
			lastValue  *decimal.Decimal
			lastFields map[string]decimal.Decimal
		)
		for _, date := range dates {
			p := points[date]
			if p.value != nil {
				lastValue = p.value
			}
			if lastValue == nil {
				continue
			}
			fields := map[string]decimal.Decimal{}
			for k, v := range lastFields {
				fields[k] = v
			}
			for k, v := range p.fields {
				fields[k] = v
			}
			lastFields = fields
			o := models.Observation{Date: date, Value: *lastValue}
			if len(fields) > 0 {
				o.Fields = fields
			}
			obs = append(obs, o)
		}
		out[sym] = obs
	}
	return out
}
