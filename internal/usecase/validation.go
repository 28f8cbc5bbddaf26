package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"invoice-extraction-pipeline/internal/domain/model"
)

// Per-violation confidence penalty. Validation never fails a job: structural
// problems lower trust in the result instead.
const violationPenalty = 0.85

// Validator checks an extracted document against the invoice schema and a
// few arithmetic rules, downgrading confidence for each violation.
type Validator struct {
	schema *jsonschema.Schema
}

func NewInvoiceValidator() (*Validator, error) {
	b, err := json.Marshal(BuildInvoiceJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("invoice.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate parses the raw model output and applies structural rules. The
// returned confidence starts from the model's own estimate and is multiplied
// down once per violation. An unparseable document yields zero confidence
// with empty fields, not an error.
func (v *Validator) Validate(doc []byte) (model.InvoiceFields, float64, []string) {
	var warnings []string

	sanitized, dropped := sanitizeOptionalFields(doc)
	for _, d := range dropped {
		warnings = append(warnings, "dropped malformed optional field: "+d)
	}

	var fields model.InvoiceFields
	if err := json.Unmarshal(sanitized, &fields); err != nil {
		return model.InvoiceFields{}, 0, append(warnings, "unparseable document: "+err.Error())
	}

	confidence := fields.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
		warnings = append(warnings, "model confidence missing or out of range")
	}

	var raw any
	if err := json.Unmarshal(sanitized, &raw); err == nil {
		if err := v.schema.Validate(raw); err != nil {
			confidence *= violationPenalty
			warnings = append(warnings, "schema violation: "+err.Error())
		}
	}

	// Required fields present
	for name, val := range map[string]string{
		"vendor_name":    fields.VendorName,
		"invoice_number": fields.InvoiceNumber,
		"total":          fields.Total,
		"currency_code":  fields.CurrencyCode,
	} {
		if strings.TrimSpace(val) == "" {
			confidence *= violationPenalty
			warnings = append(warnings, "missing required field: "+name)
		}
	}

	// Numeric fields parse; totals non-negative
	for name, val := range map[string]string{
		"subtotal": fields.Subtotal,
		"tax":      fields.Tax,
		"total":    fields.Total,
	} {
		if val == "" {
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			confidence *= violationPenalty
			warnings = append(warnings, "unparseable amount: "+name)
			continue
		}
		if f < 0 {
			confidence *= violationPenalty
			warnings = append(warnings, "negative amount: "+name)
		}
	}

	fields.Confidence = confidence
	return fields, confidence, warnings
}

// sanitizeOptionalFields normalizes or drops optional money fields that would
// otherwise fail the stricter schema. Required fields are left alone so their
// problems surface as warnings.
func sanitizeOptionalFields(doc []byte) ([]byte, []string) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return doc, nil
	}

	var dropped []string
	for _, k := range []string{"subtotal", "tax", "due_date"} {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case nil:
			delete(m, k)
			dropped = append(dropped, k)
		case float64:
			if k != "due_date" {
				m[k] = strconv.FormatFloat(t, 'f', 2, 64)
			}
		case string:
			s := strings.TrimSpace(t)
			if s == "" || strings.EqualFold(s, "null") {
				delete(m, k)
				dropped = append(dropped, k)
			}
		}
	}
	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(strings.TrimSpace(v))
	}

	out, err := json.Marshal(m)
	if err != nil {
		return doc, dropped
	}
	return out, dropped
}
