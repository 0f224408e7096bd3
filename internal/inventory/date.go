package inventory

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Date is a calendar date in JSON payloads. It decodes "2006-01-02" as well
// as RFC3339 timestamps (truncated to their day) and encodes as "2006-01-02".
type Date time.Time

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time { return time.Time(d) }

func (d Date) MarshalJSON() ([]byte, error) {
	t := time.Time(d)
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.DateOnly))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return validationf("date must be a string, got %s", data)
	}
	t, err := parseDate(raw)
	if err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := ParseDay(raw); err == nil {
		return t, nil
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, validationf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return Day(ts), nil
}

// UnmarshalJSON reads invoice_date as a calendar date.
func (in *InboundInput) UnmarshalJSON(data []byte) error {
	type fields InboundInput
	aux := struct {
		*fields
		InvoiceDate Date `json:"invoice_date"`
	}{fields: (*fields)(in)}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	in.InvoiceDate = aux.InvoiceDate.Time()
	return nil
}

// UnmarshalJSON reads expiry_date as a calendar date.
func (l *InboundLineInput) UnmarshalJSON(data []byte) error {
	type fields InboundLineInput
	aux := struct {
		*fields
		ExpiryDate Date `json:"expiry_date"`
	}{fields: (*fields)(l)}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	l.ExpiryDate = aux.ExpiryDate.Time()
	return nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
