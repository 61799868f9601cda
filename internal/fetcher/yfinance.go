package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finreport/internal/apperr"
	"finreport/internal/models"

	"github.com/shopspring/decimal"
)

const YFinanceTimeout = 20 * time.Second

var yfinanceIntervals = map[string]bool{"1d": true, "1wk": true, "1h": true, "5m": true}

// YFinance reads price history from the Yahoo chart API.
type YFinance struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

func NewYFinance(baseURL string, client *http.Client) *YFinance {
	if client == nil {
		client = http.DefaultClient
	}
	return &YFinance{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		timeout: YFinanceTimeout,
		now:     time.Now,
	}
}

func (y *YFinance) Source() models.Source { return models.SourceYFinance }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []decimal.NullDecimal `json:"open"`
					High   []decimal.NullDecimal `json:"high"`
					Low    []decimal.NullDecimal `json:"low"`
					Close  []decimal.NullDecimal `json:"close"`
					Volume []decimal.NullDecimal `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *YFinance) Fetch(ctx context.Context, params map[string]any) (*models.Dataset, error) {
	tickers := listParam(params, "tickers", "symbol")
	if len(tickers) == 0 {
		return nil, apperr.New(apperr.KindBadRequest, "yfinance: tickers is required")
	}
	interval := stringParam(params, "interval")
	if interval == "" {
		interval = "1d"
	}
	if !yfinanceIntervals[interval] {
		return nil, apperr.Newf(apperr.KindBadRequest, "yfinance: unsupported interval %q", interval)
	}
	start, end, err := dateRange(params)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = y.now().UTC()
	} else {
		// inclusive end date
		end = end.Add(24 * time.Hour)
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}

	ds := newDataset(models.SourceYFinance, tickers)
	for _, ticker := range tickers {
		obs, warning, err := y.history(ctx, ticker, start, end, interval)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			ds.Warnings = append(ds.Warnings, warning)
		}
		ds.Series[ticker] = obs
	}
	return finish(ds, tickers), nil
}

func (y *YFinance) history(ctx context.Context, ticker string, start, end time.Time, interval string) ([]models.Observation, string, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", interval)
	q.Set("events", "history")
	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0 (compatible; finreport)")

	body, err := httpGet(ctx, y.client, string(models.SourceYFinance),
		y.baseURL+"/v8/finance/chart/"+url.PathEscape(ticker)+"?"+q.Encode(), y.timeout, header)
	if err != nil {
		var fe *Error
		// an unknown or delisted ticker is a warning, not a failure
		if errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound {
			return nil, fmt.Sprintf("%s: %s not found", KindEmpty, ticker), nil
		}
		return nil, "", err
	}

	var payload chartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, "", parseError(string(models.SourceYFinance), fmt.Sprintf("malformed chart for %s", ticker), err)
	}
	if payload.Chart.Error != nil {
		return nil, fmt.Sprintf("%s: %s: %s", KindEmpty, ticker, payload.Chart.Error.Description), nil
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, "", nil
	}
	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	daily := interval == "1d" || interval == "1wk"

	out := make([]models.Observation, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closeVal, ok := at(quote.Close, i)
		if !ok {
			continue
		}
		t := time.Unix(ts, 0).UTC()
		date := t.Format(time.RFC3339)
		if daily {
			date = t.Format("2006-01-02")
		}
		fields := map[string]decimal.Decimal{}
		for name, col := range map[string][]decimal.NullDecimal{
			"open": quote.Open, "high": quote.High, "low": quote.Low, "volume": quote.Volume,
		} {
			if v, ok := at(col, i); ok {
				fields[name] = v
			}
		}
		if len(fields) == 0 {
			fields = nil
		}
		out = append(out, models.Observation{Date: date, Value: closeVal, Fields: fields})
	}
	return out, "", nil
}

func at(col []decimal.NullDecimal, i int) (decimal.Decimal, bool) {
	if i >= len(col) || !col[i].Valid {
		return decimal.Decimal{}, false
	}
	return col[i].Decimal, true
}
