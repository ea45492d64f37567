package pg

// TableID database table ID
type TableID int

const (
	// TblObjects table 'objects'
	TblObjects TableID = iota

	// TblMigrations table 'migrations'
	TblMigrations
)

// SchemaName database scheme name
const SchemaName = "oidkeeper"

// String stringer interface impl
func (tid TableID) String() string {
	return tableID2string[tid]
}

// Qualified returns the schema-qualified table name
func (tid TableID) Qualified() string {
	return SchemaName + "." + tid.String()
}

var tableID2string = map[TableID]string{
	TblObjects:    "objects",
	TblMigrations: "migrations",
}
