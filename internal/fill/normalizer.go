// Package fill извлекает исполненное количество базовой валюты из ответов
// разных бирж. Ноль означает "не нашли": вызывающий берёт разницу балансов.
package fill

import (
	"deux_backend/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var scaledDivisor = decimal.New(1, 8)

type shape struct {
	name   string
	path   string
	scaled bool
}

// порядок важен
var shapes = []shape{
	{name: "flat", path: "executedQty"},                      // binance
	{name: "data", path: "data.executedQty"},                 // bingx
	{name: "raw_response", path: "raw_response.executedQty"}, // aster
	{name: "scaled", path: "cumBaseQtyEv", scaled: true},     // phemex, 1e8
}

// FilledBaseQty никогда не паникует и не возвращает отрицательных значений.
func FilledBaseQty(raw []byte) (qty decimal.Decimal) {
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("[FILL] panic while parsing response: %v", p)
			qty = decimal.Zero
		}
	}()

	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return decimal.Zero
	}

	for _, s := range shapes {
		res := gjson.GetBytes(raw, s.path)
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		v, err := decimal.NewFromString(res.String())
		if err != nil {
			logger.Warn("[FILL] %s: cannot parse %q: %v", s.name, res.String(), err)
			return decimal.Zero
		}
		if s.scaled {
			v = v.Div(scaledDivisor)
		}
		if v.IsPositive() {
			logger.Info("[FILL] %s format: %s", s.name, v.String())
			return v
		}
	}
	return decimal.Zero
}
