package postgresdb

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/bytabit/escrowd/internal/core/domain"
	"github.com/bytabit/escrowd/internal/core/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const insecureDataSourceTemplate = "postgresql://%s:%s@%s:%d/%s?sslmode=disable"

//go:embed migration/schema.sql
var schema string

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type execTxFunc func(ctx context.Context, txBody func(q querier) error) error

type repoManager struct {
	pgxPool *pgxpool.Pool

	tradeEventRepository domain.TradeEventRepository
	offerRepository      domain.OfferRepository
	badgeRepository      domain.BadgeRepository
	unspentRepository    domain.UnspentRepository
}

type DbConfig struct {
	// DataSourceURL takes precedence over the single connection params.
	DataSourceURL string
	DbUser        string
	DbPassword    string
	DbHost        string
	DbPort        int
	DbName        string
}

// NewService connects to the postgres db and makes sure the schema exists.
func NewService(ctx context.Context, dbConfig DbConfig) (ports.RepoManager, error) {
	dataSource := dbConfig.DataSourceURL
	if dataSource == "" {
		dataSource = insecureDataSourceStr(dbConfig)
	}

	pgxPool, err := pgxpool.New(ctx, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if _, err := pgxPool.Exec(ctx, schema); err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	rm := &repoManager{pgxPool: pgxPool}
	rm.tradeEventRepository = NewTradeEventRepositoryImpl(pgxPool, rm.execTx)
	rm.offerRepository = NewOfferRepositoryImpl(pgxPool)
	rm.badgeRepository = NewBadgeRepositoryImpl(pgxPool, rm.execTx)
	rm.unspentRepository = NewUnspentRepositoryImpl(pgxPool, rm.execTx)

	return rm, nil
}

func (r *repoManager) TradeEventRepository() domain.TradeEventRepository {
	return r.tradeEventRepository
}

func (r *repoManager) OfferRepository() domain.OfferRepository {
	return r.offerRepository
}

func (r *repoManager) BadgeRepository() domain.BadgeRepository {
	return r.badgeRepository
}

func (r *repoManager) UnspentRepository() domain.UnspentRepository {
	return r.unspentRepository
}

func (r *repoManager) Close() {
	r.pgxPool.Close()
}

func (r *repoManager) execTx(
	ctx context.Context, txBody func(q querier) error,
) error {
	tx, err := r.pgxPool.Begin(ctx)
	if err != nil {
		return err
	}

	// Rollback is a no-op if the tx already committed.
	defer func() {
		err := tx.Rollback(ctx)
		switch {
		case errors.Is(err, pgx.ErrTxClosed):
			return
		case err != nil:
			log.Errorf("unable to rollback db tx: %v", err)
		}
	}()

	if err := txBody(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insecureDataSourceStr(dbConfig DbConfig) string {
	return fmt.Sprintf(
		insecureDataSourceTemplate,
		dbConfig.DbUser,
		dbConfig.DbPassword,
		dbConfig.DbHost,
		dbConfig.DbPort,
		dbConfig.DbName,
	)
}
