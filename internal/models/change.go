package models

// LSN is a monotonically increasing position marker in the change log.
type LSN uint64

// LSNRange bounds a consumed window of the change log for one table.
// Min is the first LSN included in the window, Max the last.
type LSNRange struct {
	Min LSN `json:"min"`
	Max LSN `json:"max"`
}

// ChangeOp identifies the raw operation captured for a single row.
type ChangeOp string

const (
	OpInsert ChangeOp = "I"
	OpUpdate ChangeOp = "U"
	OpDelete ChangeOp = "D"
)

// Valid reports whether op is one of the three captured operation codes.
func (op ChangeOp) Valid() bool {
	return op == OpInsert || op == OpUpdate || op == OpDelete
}

// ChangeRow is one raw entry from the change log: a single captured
// insert/update/delete against one tracked table.
type ChangeRow struct {
	LSN    LSN            `db:"lsn"`
	Table  string         `db:"table_name"`
	Op     ChangeOp       `db:"op_type"`
	Key    string         `db:"row_key"`
	Values map[string]any `db:"row_data"`
}

// LogicalChange is the net, per-key summary of one or more raw change rows
// discovered within a single sweep window. It is transient: never persisted
// beyond the sweep except as the resulting event and the advanced cursor.
type LogicalChange struct {
	Key      string
	Table    string
	Op       ChangeOp
	Hash     uint64
	Value    map[string]any
	Rows     []ChangeRow
	FirstLSN LSN
	LastLSN  LSN
}
