package dbutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeType(t *testing.T) {
	valid := map[string]string{
		"Integer":                  "integer",
		"Text":                     "text",
		"  BigInt ":                "bigint",
		"bool":                     "boolean",
		"UUID":                     "uuid",
		"Double":                   "double precision",
		"double   precision":       "double precision",
		"TimestampTZ":              "timestamptz",
		"timestamp with time zone": "timestamp with time zone",
		"JSONB":                    "jsonb",
		"varchar(32)":              "varchar(32)",
		"VARCHAR ( 8 )":            "varchar(8)",
		"numeric(10, 2)":           "numeric(10,2)",
		"decimal(5)":               "numeric(5,0)",
		"char(2)":                  "char(2)",
		"text[]":                   "text[]",
		"Integer[]":                "integer[]",
		"citext":                   "citext",
		"public.mood":              "public.mood",
	}
	for declared, want := range valid {
		got, err := NormalizeType(declared)
		if assert.NoError(t, err, declared) {
			assert.Equal(t, want, got, declared)
		}
	}

	invalid := []string{
		"",
		"   ",
		"varchar(0)",
		"varchar(4,2)",
		"numeric(2,5)",
		"int not null",
		"text); drop table users; --",
		"1abc",
	}
	for _, declared := range invalid {
		_, err := NormalizeType(declared)
		assert.Error(t, err, declared)
	}
}
