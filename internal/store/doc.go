// Package store is the hub's ledger of execution results and agent
// connection events, backed by SQLite.
//
// The default database is in memory, so the ledger is gone when the
// process exits. Each table keeps a bounded window of the newest rows;
// inserting past the window deletes the oldest.
//
//	s, err := store.NewSQLiteStore(store.MemoryPath, 500, logger)
//	_ = s.RecordResult(ctx, &store.ResultRecord{ConnID: id, Success: true})
//	recent, _ := s.RecentResults(ctx, 10)
package store
