// Package jobs describes how statutes and court decisions are paged, split
// into items, enriched with detail fetches and normalized.
package jobs

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/lawdata-collector/internal/coerce"
	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/config"
	"github.com/JakeFAU/lawdata-collector/internal/normalize"
)

// Item keys searched, in order, in a list page body.
var (
	LawItemKeys       = []string{"law", "laws", "lawList", "list", "items", "result"}
	PrecedentItemKeys = []string{"prec", "precedents", "precList", "list", "items", "result"}
)

// Envelope objects some endpoints wrap a list page in.
var (
	lawEnvelopes       = []string{"LawSearch"}
	precedentEnvelopes = []string{"PrecSearch"}
)

// DefaultParams returns the query parameters attached to every request of an
// endpoint family: the API key, the list target, the response type and any
// configured static parameters.
func DefaultParams(api config.APIConfig) map[string]any {
	params := make(map[string]any, len(api.StaticParams)+3)
	for k, v := range api.StaticParams {
		params[k] = v
	}
	if api.OC != "" {
		params["OC"] = api.OC
	}
	if api.Target != "" {
		params["target"] = api.Target
	}
	if api.Type != "" {
		params["type"] = api.Type
	}
	return params
}

// ParseDateRange splits "YYYYMMDD~YYYYMMDD". Either side may be empty.
func ParseDateRange(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", nil
	}
	start, end, found := strings.Cut(raw, "~")
	if !found {
		return "", "", fmt.Errorf("date range %q must look like YYYYMMDD~YYYYMMDD", raw)
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	for _, side := range []string{start, end} {
		if side != "" && len(side) != 8 {
			return "", "", fmt.Errorf("date range %q: %q is not YYYYMMDD", raw, side)
		}
	}
	return start, end, nil
}

// listQuery builds the paging parameters shared by both jobs.
func listQuery(api config.APIConfig, params collector.RunParams, page int) map[string]any {
	q := map[string]any{api.PageParam: page}
	size := params.PageSize
	if size <= 0 {
		size = api.DefaultPageSize
	}
	if api.PageSizeParam != "" {
		q[api.PageSizeParam] = size
	}
	if params.Query != "" && api.QueryParam != "" {
		q[api.QueryParam] = params.Query
	}
	if api.DefaultSort != "" && api.SortParam != "" {
		q[api.SortParam] = api.DefaultSort
	}
	return q
}

// extractItems collects object items from a list page. A top-level array
// contributes its objects; otherwise every key is checked and an array value
// contributes its objects while an object value counts as a single item.
func extractItems(body any, envelopes, keys []string) []map[string]any {
	var items []map[string]any
	switch t := body.(type) {
	case []any:
		return appendObjects(items, t)
	case map[string]any:
		page := t
		for _, env := range envelopes {
			if inner, ok := page[env].(map[string]any); ok {
				page = inner
				break
			}
		}
		for _, k := range keys {
			switch v := page[k].(type) {
			case []any:
				items = appendObjects(items, v)
			case map[string]any:
				items = append(items, v)
			}
		}
	}
	return items
}

func appendObjects(dst []map[string]any, values []any) []map[string]any {
	for _, v := range values {
		if m, ok := v.(map[string]any); ok {
			dst = append(dst, m)
		}
	}
	return dst
}

func detailRequest(api config.APIConfig, id string) collector.Request {
	q := map[string]any{api.DetailIDParam: id}
	if api.DetailTarget != "" {
		q["target"] = api.DetailTarget
	}
	return collector.Request{Path: api.DetailEndpoint, Query: q}
}

func firstID(item map[string]any, keys ...string) (string, bool) {
	id := coerce.String(coerce.Pick(item, keys...))
	if id == nil {
		return "", false
	}
	return *id, true
}

// Laws pages the statute search endpoint and enriches each item with its
// full text from the detail endpoint.
type Laws struct {
	api config.APIConfig
}

// NewLaws builds the statute job.
func NewLaws(api config.APIConfig) *Laws {
	return &Laws{api: api}
}

// Name implements collector.Job.
func (j *Laws) Name() collector.JobName { return collector.JobLaws }

// ListRequest implements collector.Job.
func (j *Laws) ListRequest(params collector.RunParams, page int) collector.Request {
	return collector.Request{Path: j.api.SearchEndpoint, Query: listQuery(j.api, params, page)}
}

// ExtractItems implements collector.Job.
func (j *Laws) ExtractItems(body any) []map[string]any {
	return extractItems(body, lawEnvelopes, LawItemKeys)
}

// HasDetail implements collector.Job.
func (j *Laws) HasDetail() bool { return j.api.DetailEndpoint != "" }

// DetailRequest prefers the statute ID and falls back to the serial number.
func (j *Laws) DetailRequest(item map[string]any) (collector.Request, bool) {
	if id, ok := firstID(item, normalize.LawIDKeys...); ok {
		return detailRequest(j.api, id), true
	}
	if serial, ok := firstID(item, normalize.LawSerialKeys...); ok {
		return detailRequest(j.api, serial), true
	}
	return collector.Request{}, false
}

// Normalize implements collector.Job.
func (j *Laws) Normalize(list, detail map[string]any) (collector.Record, error) {
	rec, err := normalize.Law(list, detail)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Precedents pages the court decision search endpoint. Detail fetches happen
// only when a detail endpoint is configured.
type Precedents struct {
	api config.APIConfig
}

// NewPrecedents builds the court decision job.
func NewPrecedents(api config.APIConfig) *Precedents {
	return &Precedents{api: api}
}

// Name implements collector.Job.
func (j *Precedents) Name() collector.JobName { return collector.JobPrecedents }

// ListRequest adds the judgment date window to the shared paging parameters.
func (j *Precedents) ListRequest(params collector.RunParams, page int) collector.Request {
	q := listQuery(j.api, params, page)
	if params.StartDate != "" && j.api.StartDateParam != "" {
		q[j.api.StartDateParam] = params.StartDate
	}
	if params.EndDate != "" && j.api.EndDateParam != "" {
		q[j.api.EndDateParam] = params.EndDate
	}
	return collector.Request{Path: j.api.SearchEndpoint, Query: q}
}

// ExtractItems implements collector.Job.
func (j *Precedents) ExtractItems(body any) []map[string]any {
	return extractItems(body, precedentEnvelopes, PrecedentItemKeys)
}

// HasDetail implements collector.Job.
func (j *Precedents) HasDetail() bool { return j.api.DetailEndpoint != "" }

// DetailRequest implements collector.Job.
func (j *Precedents) DetailRequest(item map[string]any) (collector.Request, bool) {
	serial, ok := firstID(item, normalize.PrecedentSerialKeys...)
	if !ok {
		return collector.Request{}, false
	}
	return detailRequest(j.api, serial), true
}

// Normalize implements collector.Job.
func (j *Precedents) Normalize(list, detail map[string]any) (collector.Record, error) {
	rec, err := normalize.Precedent(list, detail)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

var (
	_ collector.Job = (*Laws)(nil)
	_ collector.Job = (*Precedents)(nil)
)
