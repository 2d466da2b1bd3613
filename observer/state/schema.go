package state

import "github.com/hashicorp/go-memdb"

const (
	// TableStreams holds the node's stream rows.
	TableStreams = "streams"
)

// stateStoreSchema returns the schema for the working stream table.
func stateStoreSchema() *memdb.DBSchema {
	db := &memdb.DBSchema{
		Tables: make(map[string]*memdb.TableSchema),
	}

	streamSchema := streamTableSchema()
	db.Tables[streamSchema.Name] = streamSchema

	return db
}

// streamTableSchema returns the MemDB schema for the streams table. Streams
// are identified by (handle, gametype); the streaming services treat handles
// case-insensitively, so the index folds case.
func streamTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableStreams,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:         "id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.CompoundIndex{
					AllowMissing: false,
					Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{
							Field:     "Handle",
							Lowercase: true,
						},
						&memdb.StringFieldIndex{
							Field:     "Gametype",
							Lowercase: true,
						},
					},
				},
			},

			// Fast path for the primary game id uniqueness check.
			// MemDB does not enforce unique secondary indexes on
			// insert, so UpsertStream still verifies before
			// inserting; supplementary ids are covered by a scan
			// in the same transaction.
			"game_id": {
				Name:         "game_id",
				AllowMissing: false,
				Unique:       true,
				Indexer: &memdb.IntFieldIndex{
					Field: "GameID",
				},
			},
		},
	}
}
