package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finreport/internal/apperr"
	"finreport/internal/models"

	"github.com/shopspring/decimal"
)

const FREDTimeout = 15 * time.Second

// FRED reads series observations from the St. Louis Fed API.
type FRED struct {
	baseURL string
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

func NewFRED(baseURL, apiKey string, client *http.Client) *FRED {
	if client == nil {
		client = http.DefaultClient
	}
	return &FRED{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		timeout: FREDTimeout,
	}
}

func (f *FRED) Source() models.Source { return models.SourceFRED }

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
	ErrorMessage string `json:"error_message"`
}

func (f *FRED) Fetch(ctx context.Context, params map[string]any) (*models.Dataset, error) {
	if f.apiKey == "" {
		return nil, apperr.New(apperr.KindBadRequest, "fred: FRED_API_KEY is not configured")
	}
	ids := listParam(params, "series_ids", "series_id", "symbol")
	if len(ids) == 0 {
		return nil, apperr.New(apperr.KindBadRequest, "fred: series_ids is required")
	}
	start, end, err := dateRange(params)
	if err != nil {
		return nil, err
	}

	ds := newDataset(models.SourceFRED, ids)
	for _, id := range ids {
		obs, err := f.series(ctx, id, start, end)
		if err != nil {
			return nil, err
		}
		ds.Series[id] = obs
	}
	return finish(ds, ids), nil
}

func (f *FRED) series(ctx context.Context, id string, start, end time.Time) ([]models.Observation, error) {
	q := url.Values{}
	q.Set("series_id", id)
	q.Set("api_key", f.apiKey)
	q.Set("file_type", "json")
	if !start.IsZero() {
		q.Set("observation_start", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		q.Set("observation_end", end.Format("2006-01-02"))
	}
	body, err := httpGet(ctx, f.client, string(models.SourceFRED),
		f.baseURL+"/fred/series/observations?"+q.Encode(), f.timeout, nil)

	var payload fredResponse
	if err != nil {
		// FRED explains 4xx answers in error_message
		if fe, ok := err.(*Error); ok && fe.Kind == KindHTTP4xx && json.Unmarshal(body, &payload) == nil && payload.ErrorMessage != "" {
			fe.Message = fmt.Sprintf("%s: %s", id, payload.ErrorMessage)
		}
		return nil, err
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, parseError(string(models.SourceFRED), fmt.Sprintf("malformed response for %s", id), err)
	}

	out := make([]models.Observation, 0, len(payload.Observations))
	for _, o := range payload.Observations {
		// FRED marks missing values with "."
		v, err := decimal.NewFromString(strings.TrimSpace(o.Value))
		if err != nil {
			continue
		}
		if _, err := time.Parse("2006-01-02", o.Date); err != nil {
			continue
		}
		out = append(out, models.Observation{Date: o.Date, Value: v})
	}
	return out, nil
}
