package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	apperrors "alert-trader/internal/errors"
	"alert-trader/internal/models"
	"alert-trader/pkg/utils"
)

// alertSchema describes the webhook payload charting tools send. Prices and
// the bar time may arrive as numbers or numeric strings.
const alertSchema = `{
  "type": "object",
  "required": ["action", "symbol", "entry", "stoploss", "time"],
  "properties": {
    "action":   {"type": "string", "pattern": "^(?i)(buy|sell)$"},
    "symbol":   {"type": "string", "minLength": 1},
    "entry":    {"type": ["number", "string"]},
    "stoploss": {"type": ["number", "string"]},
    "time":     {"type": ["integer", "string"]}
  }
}`

// AlertParser validates raw webhook bodies and extracts alerts from them.
type AlertParser struct {
	schema *jsonschema.Schema
	now    func() time.Time
}

// NewAlertParser compiles the payload schema.
func NewAlertParser() (*AlertParser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("alert.json", strings.NewReader(alertSchema)); err != nil {
		return nil, fmt.Errorf("failed to load alert schema: %w", err)
	}
	schema, err := compiler.Compile("alert.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile alert schema: %w", err)
	}
	return &AlertParser{schema: schema, now: utils.NowIST}, nil
}

// Parse turns a webhook body into an alert. Errors wrap ErrInvalidAlert.
func (p *AlertParser) Parse(raw []byte) (models.Alert, error) {
	if !gjson.ValidBytes(raw) {
		return models.Alert{}, fmt.Errorf("%w: body is not JSON", apperrors.ErrInvalidAlert)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return models.Alert{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidAlert, err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return models.Alert{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidAlert, err)
	}

	parsed := gjson.ParseBytes(raw)
	action, ok := models.ParseAction(parsed.Get("action").String())
	if !ok {
		return models.Alert{}, apperrors.NewValidationError("action", parsed.Get("action").String(), "must be buy or sell")
	}

	entry, err := number(parsed.Get("entry"), "entry")
	if err != nil {
		return models.Alert{}, err
	}
	stop, err := number(parsed.Get("stoploss"), "stoploss")
	if err != nil {
		return models.Alert{}, err
	}
	ts, err := number(parsed.Get("time"), "time")
	if err != nil {
		return models.Alert{}, err
	}

	return models.Alert{
		Symbol:        strings.TrimSpace(parsed.Get("symbol").String()),
		Action:        action,
		EntryPrice:    models.RoundTick(entry),
		StopLossPrice: models.RoundTick(stop),
		Timestamp:     int64(ts),
		ReceivedAt:    p.now(),
	}, nil
}

func number(r gjson.Result, field string) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, apperrors.NewValidationError(field, r.Str, "must be numeric")
		}
		return v, nil
	default:
		return 0, apperrors.NewValidationError(field, r.Raw, "must be numeric")
	}
}
