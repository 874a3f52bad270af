package fill

import (
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// Sanitize приводит ответ биржи к JSON-объекту для jsonb: объект остаётся как
// есть, всё остальное заворачивается в {"raw_response", "response_type"}.
func Sanitize(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	if !gjson.ValidBytes(raw) {
		return wrap(string(raw), "text")
	}
	res := gjson.ParseBytes(raw)
	if res.IsObject() {
		return json.RawMessage(raw)
	}

	kind := "scalar"
	switch {
	case res.IsArray():
		kind = "array"
	case res.Type == gjson.String:
		kind = "string"
	case res.Type == gjson.Number:
		kind = "number"
	}
	return wrap(json.RawMessage(raw), kind)
}

func wrap(v any, kind string) json.RawMessage {
	out, err := sonic.Marshal(map[string]any{
		"raw_response":  v,
		"response_type": kind,
	})
	if err != nil {
		return nil
	}
	return out
}
