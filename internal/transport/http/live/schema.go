package livehttp

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const orderSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["symbol", "side", "quantity"],
  "additionalProperties": false,
  "properties": {
    "symbol":     {"type": "string", "minLength": 1, "maxLength": 40},
    "exchange":   {"type": "string", "enum": ["NSE", "BSE", "NFO", "MCX", "CDS", ""]},
    "side":       {"type": "string", "enum": ["BUY", "SELL", "buy", "sell"]},
    "quantity":   {"type": "integer", "minimum": 1},
    "order_type": {"type": "string", "enum": ["MARKET", "LIMIT", "market", "limit"]},
    "price":      {"type": "number", "minimum": 0},
    "strategy":   {"type": "string"},
    "reason":     {"type": "string"}
  },
  "if":   {"properties": {"order_type": {"enum": ["LIMIT", "limit"]}}, "required": ["order_type"]},
  "then": {"required": ["price"], "properties": {"price": {"exclusiveMinimum": 0}}}
}`

func compileOrderSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("order.json", strings.NewReader(orderSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("order.json")
}
