package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/teranos/datapump/errors"
	"github.com/teranos/datapump/source"
)

const (
	tablePath = "/api/now/table/"
	statsPath = "/api/now/stats/"

	dictionaryTable = "sys_dictionary"
)

// Table implements source.Source. No remote call is made until the handle
// is used.
func (c *Client) Table(ctx context.Context, name string, opts source.TableOptions) (source.Table, error) {
	if name == "" {
		return nil, errors.NewInit("table name is required")
	}
	if err := errors.CheckContext(ctx); err != nil {
		return nil, err
	}
	return &table{client: c, name: name, displayValues: opts.DisplayValues}, nil
}

type table struct {
	client        *Client
	name          string
	displayValues bool
}

func (t *table) Name() string { return t.name }

func (t *table) Keys(ctx context.Context, filter source.Filter, sortField string, w source.Window) (source.KeyList, error) {
	q := url.Values{}
	q.Set("sysparm_query", filter.Encode(sortField))
	q.Set("sysparm_fields", source.FieldSysID)
	q.Set("sysparm_offset", strconv.Itoa(w.First))
	if w.Limit > 0 {
		q.Set("sysparm_limit", strconv.Itoa(w.Limit))
	}

	resp, err := t.client.call(ctx, http.MethodGet, tablePath+url.PathEscape(t.name), q, nil)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return nil, err
	}
	if w.Limit > 0 && len(rows) > w.Limit {
		return nil, errors.NewProtocol("%s: requested %d keys, received %d", t.name, w.Limit, len(rows))
	}

	keys := make(source.KeyList, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, source.Key(r[source.FieldSysID]))
	}
	return keys, nil
}

func (t *table) Records(ctx context.Context, filter source.Filter, sortField string) ([]source.Record, error) {
	q := url.Values{}
	q.Set("sysparm_query", filter.Encode(sortField))
	q.Set("sysparm_exclude_reference_link", "true")
	if t.displayValues {
		q.Set("sysparm_display_value", "all")
	}

	resp, err := t.client.call(ctx, http.MethodGet, tablePath+url.PathEscape(t.name), q, nil)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return nil, err
	}
	if declared := resp.declaredCount(); declared >= 0 && len(rows) > declared {
		return nil, errors.NewProtocol("%s: response declared %d records, received %d", t.name, declared, len(rows))
	}

	records := make([]source.Record, len(rows))
	for i, r := range rows {
		records[i] = source.NewRecord(r)
	}
	return records, nil
}

func (t *table) Count(ctx context.Context, filter source.Filter) (int, error) {
	q := url.Values{}
	q.Set("sysparm_count", "true")
	q.Set("sysparm_query", filter.String())

	resp, err := t.client.call(ctx, http.MethodGet, statsPath+url.PathEscape(t.name), q, nil)
	if err != nil {
		return 0, err
	}
	var env struct {
		Result statsResult `json:"result"`
	}
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return 0, errors.WrapExec(err, "decode count of "+t.name)
	}
	return env.Result.count()
}

func (t *table) GroupCount(ctx context.Context, filter source.Filter, field string) ([]source.GroupCount, error) {
	q := url.Values{}
	q.Set("sysparm_count", "true")
	q.Set("sysparm_group_by", field)
	q.Set("sysparm_query", filter.String())

	resp, err := t.client.call(ctx, http.MethodGet, statsPath+url.PathEscape(t.name), q, nil)
	if err != nil {
		return nil, err
	}
	var env struct {
		Result []statsResult `json:"result"`
	}
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, errors.WrapExec(err, "decode grouped count of "+t.name)
	}

	groups := make([]source.GroupCount, 0, len(env.Result))
	for _, r := range env.Result {
		n, err := r.count()
		if err != nil {
			return nil, err
		}
		value := ""
		for _, g := range r.GroupBy {
			if g.Field == field {
				value = g.Value
			}
		}
		groups = append(groups, source.GroupCount{Value: value, Count: n})
	}
	source.SortGroupCounts(groups)
	return groups, nil
}

func (t *table) Schema(ctx context.Context) (source.TableSchema, error) {
	q := url.Values{}
	q.Set("sysparm_query", "name="+t.name)
	q.Set("sysparm_fields", "element,internal_type,max_length,reference")
	q.Set("sysparm_exclude_reference_link", "true")

	resp, err := t.client.call(ctx, http.MethodGet, tablePath+dictionaryTable, q, nil)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(resp.body)
	if err != nil {
		return nil, err
	}

	var schema source.TableSchema
	for _, r := range rows {
		// the collection entry describes the table itself
		if r["element"] == "" {
			continue
		}
		length, _ := strconv.Atoi(r["max_length"])
		schema = append(schema, source.FieldDef{
			Name:      r["element"],
			Type:      r["internal_type"],
			Length:    length,
			Reference: r["reference"],
		})
	}
	if len(schema) == 0 {
		return nil, errors.NewInit("table %s has no readable fields", t.name)
	}
	if !schema.Has(source.FieldSysID) {
		schema = append(schema, source.FieldDef{Name: source.FieldSysID, Type: "GUID", Length: 32})
	}
	return schema.Normalize(), nil
}

// Get implements source.RecordStore.
func (c *Client) Get(ctx context.Context, tableName string, key source.Key) (source.Record, error) {
	q := url.Values{}
	q.Set("sysparm_exclude_reference_link", "true")

	resp, err := c.call(ctx, http.MethodGet, tablePath+url.PathEscape(tableName)+"/"+url.PathEscape(string(key)), q, nil)
	if err != nil {
		return source.Record{}, err
	}
	var env struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return source.Record{}, errors.WrapExec(err, "decode record")
	}
	return source.NewRecord(flatten(env.Result)), nil
}

// Query implements source.RecordStore.
func (c *Client) Query(ctx context.Context, tableName string, filter source.Filter, sortField string) ([]source.Record, error) {
	t := &table{client: c, name: tableName}
	return t.Records(ctx, filter, sortField)
}

// Update implements source.RecordStore.
func (c *Client) Update(ctx context.Context, tableName string, key source.Key, values map[string]string) error {
	_, err := c.call(ctx, http.MethodPatch, tablePath+url.PathEscape(tableName)+"/"+url.PathEscape(string(key)), url.Values{}, values)
	return err
}

type statsResult struct {
	Stats struct {
		Count string `json:"count"`
	} `json:"stats"`
	GroupBy []struct {
		Field string `json:"field"`
		Value string `json:"value"`
	} `json:"groupby_fields"`
}

func (r statsResult) count() (int, error) {
	n, err := strconv.Atoi(r.Stats.Count)
	if err != nil {
		return 0, errors.NewProtocol("invalid count %q", r.Stats.Count)
	}
	return n, nil
}

// decodeRows decodes a {"result": [...]} envelope into flat field maps.
func decodeRows(body []byte) ([]map[string]string, error) {
	var env struct {
		Result []map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.WrapExec(err, "decode response")
	}
	rows := make([]map[string]string, len(env.Result))
	for i, raw := range env.Result {
		rows[i] = flatten(raw)
	}
	return rows, nil
}

// flatten turns raw field values into strings. With display values on, a
// field arrives as {"value": ..., "display_value": ...} and yields both
// name and dv_name.
func flatten(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for name, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[name] = s
			continue
		}
		var pair struct {
			Value        *string `json:"value"`
			DisplayValue *string `json:"display_value"`
		}
		if err := json.Unmarshal(v, &pair); err == nil && pair.Value != nil {
			out[name] = *pair.Value
			if pair.DisplayValue != nil && name != source.FieldSysID {
				out["dv_"+name] = *pair.DisplayValue
			}
			continue
		}
		// numbers, booleans and null
		if string(v) != "null" {
			out[name] = string(v)
		}
	}
	return out
}
