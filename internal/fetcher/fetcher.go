package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"finreport/internal/apperr"
	"finreport/internal/logger"
	"finreport/internal/metrics"
	"finreport/internal/models"

	"go.uber.org/zap"
)

// maxBodyBytes caps a provider response.
const maxBodyBytes = 64 << 20

// Fetcher retrieves time series from one provider. Implementations never retry.
type Fetcher interface {
	Source() models.Source
	Fetch(ctx context.Context, params map[string]any) (*models.Dataset, error)
}

// Registry dispatches by source name.
type Registry struct {
	fetchers map[models.Source]Fetcher
}

func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[models.Source]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.fetchers[f.Source()] = f
	}
	return r
}

// Supported reports whether source has a fetcher.
func (r *Registry) Supported(source string) bool {
	_, ok := r.fetchers[models.Source(source)]
	return ok
}

// Sources lists the registered provider names.
func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.fetchers))
	for s := range r.fetchers {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Fetch(ctx context.Context, source string, params map[string]any) (*models.Dataset, error) {
	f, ok := r.fetchers[models.Source(source)]
	if !ok {
		return nil, apperr.Newf(apperr.KindBadRequest, "unsupported source %q", source)
	}
	start := time.Now()
	ds, err := f.Fetch(ctx, params)
	status := "ok"
	if err != nil {
		status = "error"
		var fe *Error
		if errors.As(err, &fe) {
			status = strings.ToLower(string(fe.Kind))
		}
	}
	metrics.FetchDuration.WithLabelValues(source, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	for _, w := range ds.Warnings {
		logger.FromContext(ctx).Warn("external data warning", zap.String("source", source), zap.String("warning", w))
	}
	return ds, nil
}

// httpGet performs one GET under its own deadline and returns the body of a 2xx answer.
func httpGet(ctx context.Context, client *http.Client, source, rawURL string, timeout time.Duration, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Source: source, Kind: KindNetwork, Message: "build request failed", Err: err}
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(source, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, statusError(source, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return body, nil
}

// stringParam returns the first non-empty string among keys.
func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case []any:
			parts := make([]string, 0, len(t))
			for _, item := range t {
				parts = append(parts, fmt.Sprint(item))
			}
			s = strings.Join(parts, ",")
		case []string:
			s = strings.Join(t, ",")
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// listParam splits a comma list (or JSON array) into trimmed, de-duplicated ids.
func listParam(params map[string]any, keys ...string) []string {
	raw := stringParam(params, keys...)
	if raw == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

// Identifier returns the symbol/series id the router requires on every fetch.
func Identifier(params map[string]any) string {
	return stringParam(params, "symbol", "series_id", "series_ids", "tickers")
}

// parseDate accepts YYYYMMDD or YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYYMMDD", s)
}

// dateRange reads optional start/end parameters.
func dateRange(params map[string]any) (start, end time.Time, err error) {
	if s := stringParam(params, "start", "start_date"); s != "" {
		if start, err = parseDate(s); err != nil {
			return start, end, apperr.New(apperr.KindBadRequest, err.Error())
		}
	}
	if s := stringParam(params, "end", "end_date"); s != "" {
		if end, err = parseDate(s); err != nil {
			return start, end, apperr.New(apperr.KindBadRequest, err.Error())
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, apperr.New(apperr.KindBadRequest, "end date is before start date")
	}
	return start, end, nil
}

func newDataset(source models.Source, requested []string) *models.Dataset {
	ds := &models.Dataset{Source: source, Series: make(map[string][]models.Observation, len(requested))}
	for _, id := range requested {
		ds.Series[id] = []models.Observation{}
	}
	return ds
}

// finish fills Observations for single-series requests and flags empty series.
func finish(ds *models.Dataset, requested []string) *models.Dataset {
	for _, id := range requested {
		if len(ds.Series[id]) == 0 && !warned(ds.Warnings, id) {
			ds.Warnings = append(ds.Warnings, fmt.Sprintf("%s: no observations for %s", KindEmpty, id))
		}
	}
	if len(requested) == 1 {
		ds.Observations = ds.Series[requested[0]]
	}
	return ds
}

func warned(warnings []string, id string) bool {
	for _, w := range warnings {
		if strings.Contains(w, id) {
			return true
		}
	}
	return false
}
