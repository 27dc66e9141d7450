package dbutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// friendly type names accepted in table definitions, keyed lower case
var typeAliases = map[string]string{
	"integer":     "integer",
	"int":         "integer",
	"int4":        "integer",
	"smallint":    "smallint",
	"int2":        "smallint",
	"bigint":      "bigint",
	"int8":        "bigint",
	"serial":      "serial",
	"bigserial":   "bigserial",
	"text":        "text",
	"string":      "text",
	"varchar":     "text",
	"bool":        "boolean",
	"boolean":     "boolean",
	"uuid":        "uuid",
	"float":       "real",
	"float4":      "real",
	"real":        "real",
	"double":      "double precision",
	"float8":      "double precision",
	"numeric":     "numeric",
	"decimal":     "numeric",
	"date":        "date",
	"time":        "time",
	"timestamp":   "timestamp",
	"timestamptz": "timestamptz",
	"datetime":    "timestamptz",
	"json":        "json",
	"jsonb":       "jsonb",
	"bytea":       "bytea",
	"binary":      "bytea",
}

var (
	sizedTypePattern = regexp.MustCompile(`^(varchar|char|character varying|numeric|decimal)\s*\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\)$`)
	identPattern     = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)
)

// NormalizeType maps a declared column type such as "Integer" or "varchar(32)"
// to the Postgres type used in DDL.
func NormalizeType(declared string) (string, error) {
	raw := strings.ToLower(strings.Join(strings.Fields(declared), " "))
	if raw == "" {
		return "", fmt.Errorf("column type is required")
	}

	if raw == "double precision" || raw == "timestamp with time zone" || raw == "character varying" {
		return raw, nil
	}

	if base, isArray := strings.CutSuffix(raw, "[]"); isArray {
		elem, err := NormalizeType(base)
		if err != nil {
			return "", err
		}
		return elem + "[]", nil
	}

	if pgType, ok := typeAliases[raw]; ok {
		return pgType, nil
	}

	if m := sizedTypePattern.FindStringSubmatch(raw); m != nil {
		size, err := strconv.Atoi(m[2])
		if err != nil || size <= 0 {
			return "", fmt.Errorf("invalid size in column type %q", declared)
		}
		switch m[1] {
		case "varchar", "character varying":
			if m[3] != "" {
				return "", fmt.Errorf("varchar takes a single length in %q", declared)
			}
			return fmt.Sprintf("varchar(%d)", size), nil
		case "char":
			if m[3] != "" {
				return "", fmt.Errorf("char takes a single length in %q", declared)
			}
			return fmt.Sprintf("char(%d)", size), nil
		default:
			scale := 0
			if m[3] != "" {
				scale, _ = strconv.Atoi(m[3])
			}
			if scale > size {
				return "", fmt.Errorf("numeric scale exceeds precision in %q", declared)
			}
			return fmt.Sprintf("numeric(%d,%d)", size, scale), nil
		}
	}

	// Other plain type names (citext, inet, user defined enums) are passed through.
	if identPattern.MatchString(raw) {
		return raw, nil
	}
	return "", fmt.Errorf("unsupported column type %q", declared)
}
