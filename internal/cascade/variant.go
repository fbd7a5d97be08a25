package cascade

import (
	"strings"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// Field is a record input a query variant may require.
type Field string

// Variant input fields.
const (
	FieldAddress Field = "address"
	FieldCity    Field = "city"
	FieldCountry Field = "country"
	FieldStreet  Field = "street"
)

// Variant is one query shape. The merchant string is always part of it.
type Variant struct {
	Name   string
	Fields []Field
}

// Variants are tried in this order.
var Variants = []Variant{
	{Name: "merchant+address+city+country", Fields: []Field{FieldAddress, FieldCity, FieldCountry}},
	{Name: "merchant+city+country", Fields: []Field{FieldCity, FieldCountry}},
	{Name: "merchant+city", Fields: []Field{FieldCity}},
	{Name: "merchant+country", Fields: []Field{FieldCountry}},
	{Name: "merchant", Fields: nil},
	{Name: "merchant+street", Fields: []Field{FieldStreet}},
}

// Build returns the query text for the variant, or false when the merchant
// or any required field is blank.
func (v Variant) Build(merchant string, rec model.MerchantRecord) (string, bool) {
	merchant = collapse(merchant)
	if merchant == "" {
		return "", false
	}
	parts := []string{merchant}
	for _, f := range v.Fields {
		val := collapse(fieldValue(f, rec))
		if val == "" {
			return "", false
		}
		parts = append(parts, val)
	}
	return strings.Join(parts, " "), true
}

func fieldValue(f Field, rec model.MerchantRecord) string {
	switch f {
	case FieldAddress:
		return rec.Address
	case FieldCity:
		return rec.City
	case FieldCountry:
		return rec.Country
	case FieldStreet:
		return rec.Street()
	default:
		return ""
	}
}
