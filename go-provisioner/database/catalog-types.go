package database

// Rows read back from the Postgres catalog when verifying a table.

type PgClassSelect struct {
	Schema           string `json:"nspname"`
	Name             string `json:"relname"`
	RowSecurity      bool   `json:"relrowsecurity"`
	ForceRowSecurity bool   `json:"relforcerowsecurity"`
}

type InformationSchemaColumnsSelect struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable"`
}

type PgPoliciesSelect struct {
	SchemaName string   `json:"schemaname"`
	TableName  string   `json:"tablename"`
	PolicyName string   `json:"policyname"`
	Permissive string   `json:"permissive"`
	Roles      []string `json:"roles"`
	Cmd        string   `json:"cmd"`
	Qual       *string  `json:"qual"`
	WithCheck  *string  `json:"with_check"`
}
