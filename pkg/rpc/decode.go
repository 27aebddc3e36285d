package rpc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/davidroman0O/bmcmanager/errors"
)

// expiredMarker appears in the interstitial page served instead of RPC data
// once the session is no longer valid.
const expiredMarker = "session_expired.html"

// Record is one key-value element of an RPC response.
type Record map[string]any

// String returns the value of key formatted as a string, or "" when absent.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the value of key as an integer.
func (r Record) Int(key string) (int, bool) {
	switch v := r[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

// Keys returns the record's keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Response is the decoded result of an RPC call.
type Response struct {
	Records []Record

	// Retryable marks an empty response caused by an expired session, as opposed
	// to a genuinely empty result.
	Retryable bool
}

// Empty reports whether the response carries no records.
func (r Response) Empty() bool {
	return len(r.Records) == 0
}

// First returns the first record, or nil.
func (r Response) First() Record {
	if len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

// Decode extracts the bracket-delimited array from a vendor response body and
// parses it as a flow sequence of maps. Empty records are dropped. The body is
// never evaluated as code.
func Decode(text string) (Response, error) {
	resp, err := decodeArray(text)
	if err == nil {
		return resp, nil
	}
	if strings.Contains(text, expiredMarker) {
		return Response{Retryable: true}, errors.Wrap(err, errors.ErrProtocolDecode, "session expired")
	}
	return Response{}, err
}

func decodeArray(text string) (Response, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return Response{}, errors.New(errors.ErrProtocolDecode, "no array in response")
	}

	var items []any
	if err := yaml.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return Response{}, errors.Wrap(err, errors.ErrProtocolDecode, "malformed response array")
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := toRecord(item)
		if err != nil {
			return Response{}, errors.Wrap(err, errors.ErrProtocolDecode, fmt.Sprintf("element %d", i))
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return Response{Records: records}, nil
}

func toRecord(item any) (Record, error) {
	switch m := item.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return Record(m), nil
	case map[any]any:
		rec := make(Record, len(m))
		for k, v := range m {
			rec[fmt.Sprint(k)] = v
		}
		return rec, nil
	}
	return nil, fmt.Errorf("expected a record, got %T", item)
}
