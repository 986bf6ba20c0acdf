package main

import (
	"fmt"

	"github.com/dshills/daer/eventlog"
	"github.com/dshills/daer/snapshot"
)

// openStores opens the SQLite-backed Event Log and Snapshot Store at
// dbPath, the CLI's zero-config default backend (the production
// Redis-backed implementations are for multi-process deployments this
// binary doesn't attempt). The event log uses dbPath itself and the
// snapshot store dbPath + ".snapshots" (both use ":memory:" when dbPath
// is ":memory:"); closeAll releases both.
func openStores(dbPath string) (eventlog.Log, snapshot.Store, func() error, error) {
	log, err := eventlog.NewSQLiteLog(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("daerctl: open event log: %w", err)
	}

	snapPath := dbPath
	if dbPath != ":memory:" {
		snapPath = dbPath + ".snapshots"
	}
	store, err := snapshot.NewSQLiteStore(snapPath)
	if err != nil {
		log.Close()
		return nil, nil, nil, fmt.Errorf("daerctl: open snapshot store: %w", err)
	}

	closeAll := func() error {
		storeErr := store.Close()
		logErr := log.Close()
		if logErr != nil {
			return logErr
		}
		return storeErr
	}
	return log, store, closeAll, nil
}
