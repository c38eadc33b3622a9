package storage

import "database/sql"

// feedRow is one data_feeds hit joined with the position of its unit.
type feedRow struct {
	Value          string
	MainChainIndex sql.NullInt64
}

// capacityRow aggregates the outputs of an address relative to a fee estimate.
type capacityRow struct {
	LargeOutputs      int64
	SmallOutputsTotal int64
	CommissionTotal   int64
	WitnessingTotal   int64
}
