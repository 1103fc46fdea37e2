package certs

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Record is a validated PSA certificate mapped to store columns.
type Record struct {
	CertNumber                   string
	SpecID                       sql.NullInt64
	SpecNumber                   sql.NullString
	LabelType                    sql.NullString
	ReverseBarcode               Flag
	Year                         int64
	Brand                        sql.NullString
	Category                     sql.NullString
	CardNumber                   sql.NullString
	Subject                      sql.NullString
	Variety                      sql.NullString
	IsPSADNA                     Flag
	IsDualCert                   Flag
	GradeDescription             sql.NullString
	CardGrade                    sql.NullString
	TotalPopulation              sql.NullInt64
	TotalPopulationWithQualifier sql.NullInt64
	PopulationHigher             sql.NullInt64
}

// Column is a store column name with its value.
type Column struct {
	Name  string
	Value any
}

// Columns returns the record's store columns in schema order, key first.
func (r Record) Columns() []Column {
	return []Column{
		{"cert_number", r.CertNumber},
		{"spec_id", r.SpecID},
		{"spec_number", r.SpecNumber},
		{"label_type", r.LabelType},
		{"reverse_barcode", r.ReverseBarcode},
		{"year", r.Year},
		{"brand", r.Brand},
		{"category", r.Category},
		{"card_number", r.CardNumber},
		{"subject", r.Subject},
		{"variety", r.Variety},
		{"is_psadna", r.IsPSADNA},
		{"is_dual_cert", r.IsDualCert},
		{"grade_description", r.GradeDescription},
		{"card_grade", r.CardGrade},
		{"total_population", r.TotalPopulation},
		{"total_population_with_qualifier", r.TotalPopulationWithQualifier},
		{"population_higher", r.PopulationHigher},
	}
}

// ScanTargets returns pointers matching Columns, for row scans.
func (r *Record) ScanTargets() []any {
	return []any{
		&r.CertNumber,
		&r.SpecID,
		&r.SpecNumber,
		&r.LabelType,
		&r.ReverseBarcode,
		&r.Year,
		&r.Brand,
		&r.Category,
		&r.CardNumber,
		&r.Subject,
		&r.Variety,
		&r.IsPSADNA,
		&r.IsDualCert,
		&r.GradeDescription,
		&r.CardGrade,
		&r.TotalPopulation,
		&r.TotalPopulationWithQualifier,
		&r.PopulationHigher,
	}
}

// DecodeObject parses body as a single JSON object. Numbers are kept as
// json.Number. ok is false for anything else, including trailing data.
func DecodeObject(body []byte) (obj map[string]any, ok bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}

	obj, ok = v.(map[string]any)
	return obj, ok
}

// ServerMessage returns the payload's top-level ServerMessage, if any.
func ServerMessage(payload map[string]any) sql.NullString {
	if s, ok := payload["ServerMessage"].(string); ok {
		return sql.NullString{String: s, Valid: true}
	}
	return sql.NullString{}
}

var yearPattern = regexp.MustCompile(`\d{4}`)

// Validate checks a decoded PSA API payload and maps it to a Record. The
// payload must be an object holding a PSACert object with a CertNumber, a
// Year (string or integer) containing a four digit run, and a Brand or a
// Subject. Anything else is rejected.
func Validate(payload any) (Record, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Record{}, false
	}

	c, ok := obj["PSACert"].(map[string]any)
	if !ok || len(c) == 0 || !truthy(c["CertNumber"]) {
		return Record{}, false
	}

	year, ok := parseYear(c["Year"])
	if !ok {
		return Record{}, false
	}

	if !truthy(c["Brand"]) && !truthy(c["Subject"]) {
		return Record{}, false
	}

	flag := func(key string) Flag {
		v, present := c[key]
		return FlagOf(v, present)
	}

	return Record{
		CertNumber:                   textOf(c["CertNumber"]).String,
		SpecID:                       intOf(c["SpecID"]),
		SpecNumber:                   textOf(c["SpecNumber"]),
		LabelType:                    textOf(c["LabelType"]),
		ReverseBarcode:               flag("ReverseBarCode"),
		Year:                         year,
		Brand:                        textOf(c["Brand"]),
		Category:                     textOf(c["Category"]),
		CardNumber:                   textOf(c["CardNumber"]),
		Subject:                      textOf(c["Subject"]),
		Variety:                      textOf(c["Variety"]),
		IsPSADNA:                     flag("IsPSADNA"),
		IsDualCert:                   flag("IsDualCert"),
		GradeDescription:             textOf(c["GradeDescription"]),
		CardGrade:                    textOf(c["CardGrade"]),
		TotalPopulation:              intOf(c["TotalPopulation"]),
		TotalPopulationWithQualifier: intOf(c["TotalPopulationWithQualifier"]),
		PopulationHigher:             intOf(c["PopulationHigher"]),
	}, true
}

// parseYear takes the first four digit run of a string or integer year.
func parseYear(v any) (int64, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		if strings.ContainsAny(t.String(), ".eE") {
			return 0, false
		}
		s = t.String()
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		s = strconv.FormatFloat(t, 'f', 0, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	default:
		return 0, false
	}

	m := yearPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	year, _ := strconv.ParseInt(m, 10, 64)
	return year, year != 0
}

func textOf(v any) sql.NullString {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}
	case string:
		return sql.NullString{String: t, Valid: true}
	case json.Number:
		return sql.NullString{String: t.String(), Valid: true}
	case bool:
		return sql.NullString{String: strconv.FormatBool(t), Valid: true}
	case float64:
		return sql.NullString{String: strconv.FormatFloat(t, 'f', -1, 64), Valid: true}
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return sql.NullString{}
		}
		return sql.NullString{String: string(b), Valid: true}
	}
}

func intOf(v any) sql.NullInt64 {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return sql.NullInt64{Int64: int64(t), Valid: true}
		}
		return sql.NullInt64{}
	case int:
		return sql.NullInt64{Int64: int64(t), Valid: true}
	case int64:
		return sql.NullInt64{Int64: t, Valid: true}
	default:
		return sql.NullInt64{}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullInt64{Int64: n, Valid: true}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
		return sql.NullInt64{Int64: int64(f), Valid: true}
	}
	return sql.NullInt64{}
}

// truthy follows JSON intuition: null, false, zero, "" and empty
// containers are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
