package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/RichardKnop/graindb/internal/graindb"
	"github.com/RichardKnop/graindb/internal/pkg/logging"
)

// A small smoke scenario for the storage and concurrency core: wire the
// buffer pool, B+Tree, lock manager and executors together, insert some rows
// through the operator pipeline, scan them back ordered and commit.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	logger, err := logging.Build(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := graindb.DefaultConfig()
	if err != nil {
		return err
	}
	logger.Info("starting graindb demo",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("replacer_k", cfg.ReplacerK),
		zap.Duration("cycle_detection_interval", cfg.CycleDetectionInterval),
	)

	ctx := context.Background()
	pool := graindb.NewBufferPool(logger, cfg.PoolSize, cfg.ReplacerK, graindb.NewMemDiskManager())
	defer func() {
		_ = pool.Close()
	}()

	header := graindb.NewHeaderPage(pool)
	if err := header.Bootstrap(); err != nil {
		return err
	}

	txnMgr := graindb.NewTransactionManager(logger, pool)
	lockMgr := graindb.NewLockManager(logger, txnMgr)
	lockMgr.StartDeadlockDetection(cfg.CycleDetectionInterval)
	defer lockMgr.StopDeadlockDetection()

	catalog := graindb.NewCatalog()
	schema := graindb.NewSchema(
		graindb.Column{Name: "id", Kind: graindb.KindInt},
		graindb.Column{Name: "name", Kind: graindb.KindString},
	)
	table, err := catalog.CreateTable("accounts", schema, graindb.NewMemTableHeap(1000))
	if err != nil {
		return err
	}
	tree, err := graindb.NewBPlusTree[int64](
		logger, "accounts_id_idx", pool, header, cfg.LeafMaxSize, cfg.InternalMaxSize,
	)
	if err != nil {
		return err
	}
	if _, err := catalog.CreateIndex("accounts_id_idx", "accounts", graindb.NewInt64TreeIndex(tree, 0)); err != nil {
		return err
	}

	txn := txnMgr.Begin(graindb.RepeatableRead)
	execCtx := &graindb.ExecutorContext{
		Logger:  logger,
		Catalog: catalog,
		Lock:    lockMgr,
		Txns:    txnMgr,
		Txn:     txn,
	}

	insertPlan := &graindb.InsertPlan{
		TableOID: table.OID,
		Child: &graindb.ValuesPlan{
			Schema: schema,
			Rows: [][]graindb.Value{
				{graindb.NewInt(3), graindb.NewString("carol")},
				{graindb.NewInt(1), graindb.NewString("alice")},
				{graindb.NewInt(2), graindb.NewString("bob")},
			},
		},
	}
	result, err := graindb.Execute(ctx, execCtx, insertPlan)
	if err != nil {
		txnMgr.Abort(txn)
		return err
	}
	logger.Info("inserted rows", zap.String("count", result[0].Value(0).String()))

	scanPlan := graindb.Optimize(&graindb.LimitPlan{
		N: 10,
		Child: &graindb.SortPlan{
			Child:    &graindb.SeqScanPlan{TableOID: table.OID, Schema: schema},
			OrderBys: []graindb.OrderBy{{Expr: graindb.NewColumnRef(0)}},
		},
	})
	rows, err := graindb.Execute(ctx, execCtx, scanPlan)
	if err != nil {
		txnMgr.Abort(txn)
		return err
	}
	for _, row := range rows {
		fmt.Println(row)
	}
	return txnMgr.Commit(txn)
}
