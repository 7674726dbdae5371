package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/mcdev12/fishmarket/go/internal/sqlutil"
)

const auctionColumns = `id, item_id, seller_id, status, start_time, end_time,
	starting_price::text, current_price::text, bid_increment::text,
	current_winner_id, winning_bid_id, version, created_at, updated_at`

const bidColumns = `id, auction_id, bidder_id, amount::text, status, placed_at`

// PostgresRepository stores auctions and bids in Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over an open pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) CreateAuction(ctx context.Context, a *models.Auction) error {
	prepareNew(a, time.Now().UTC())

	_, err := r.pool.Exec(ctx, `
		INSERT INTO auctions (id, item_id, seller_id, status, start_time, end_time,
			starting_price, current_price, bid_increment, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10, $11, $12)`,
		a.ID, a.ItemID, a.SellerID, string(a.Status), a.StartTime, a.EndTime,
		sqlutil.ToNumeric(a.StartingPrice), sqlutil.ToNumeric(a.CurrentPrice), sqlutil.ToNumeric(a.BidIncrement),
		a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

type commitResult struct {
	auction *models.Auction
	outbid  *models.Bid
}

func (r *PostgresRepository) CommitBid(ctx context.Context, c BidCommit) (*models.Auction, *models.Bid, error) {
	res, err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) (commitResult, error) {
		// The conditional update takes the row lock and rejects stale decisions.
		row := tx.QueryRow(ctx, `
			UPDATE auctions
			SET current_price = $2::text::numeric, current_winner_id = $3, winning_bid_id = $4,
				version = version + 1, updated_at = $5
			WHERE id = $1 AND version = $6 AND status = 'active'
			RETURNING `+auctionColumns,
			c.Bid.AuctionID, sqlutil.ToNumeric(c.Bid.Amount), c.Bid.BidderID, c.Bid.ID,
			c.Bid.PlacedAt, c.ExpectedVersion)
		a, err := scanAuction(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return commitResult{}, r.missingOrStale(ctx, tx, c.Bid.AuctionID)
		}
		if err != nil {
			return commitResult{}, fmt.Errorf("failed to update auction price: %w", err)
		}

		var outbid *models.Bid
		row = tx.QueryRow(ctx, `
			UPDATE bids SET status = 'outbid'
			WHERE auction_id = $1 AND status = 'winning'
			RETURNING `+bidColumns, c.Bid.AuctionID)
		prev, err := scanBid(row)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return commitResult{}, fmt.Errorf("failed to mark previous bid outbid: %w", err)
		default:
			outbid = prev
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO bids (id, auction_id, bidder_id, amount, status, placed_at)
			VALUES ($1, $2, $3, $4::text::numeric, 'winning', $5)`,
			c.Bid.ID, c.Bid.AuctionID, c.Bid.BidderID, sqlutil.ToNumeric(c.Bid.Amount), c.Bid.PlacedAt)
		if err != nil {
			return commitResult{}, fmt.Errorf("failed to insert bid: %w", err)
		}
		return commitResult{auction: a, outbid: outbid}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.auction, res.outbid, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AuctionStatus, expectedVersion int64, at time.Time) (*models.Auction, error) {
	return sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) (*models.Auction, error) {
		row := tx.QueryRow(ctx, `
			UPDATE auctions SET status = $2, version = version + 1, updated_at = $4
			WHERE id = $1 AND version = $3
			RETURNING `+auctionColumns,
			id, string(status), expectedVersion, at)
		a, err := scanAuction(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missingOrStale(ctx, tx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update auction status: %w", err)
		}

		if status == models.AuctionStatusCancelled {
			if _, err := tx.Exec(ctx, `
				UPDATE bids SET status = 'cancelled'
				WHERE auction_id = $1 AND status IN ('winning', 'active')`, id); err != nil {
				return nil, fmt.Errorf("failed to cancel bids: %w", err)
			}
		}
		return a, nil
	})
}

func (r *PostgresRepository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY placed_at, amount`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, *b)
	}
	return bids, rows.Err()
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM auctions
		WHERE (status = 'pending' AND start_time <= $1) OR (status = 'active' AND end_time < $1)
		ORDER BY end_time
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due auctions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) missingOrStale(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check auction existence: %w", err)
	}
	if !exists {
		return ErrAuctionNotFound
	}
	return ErrStaleState
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var (
		a                            models.Auction
		status                       string
		startingPrice, current, incr string
		winnerID, winningBidID       uuid.NullUUID
	)
	if err := row.Scan(&a.ID, &a.ItemID, &a.SellerID, &status, &a.StartTime, &a.EndTime,
		&startingPrice, &current, &incr, &winnerID, &winningBidID,
		&a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	a.Status = models.AuctionStatus(status)
	if a.StartingPrice, err = sqlutil.FromNumeric(startingPrice); err != nil {
		return nil, err
	}
	if a.CurrentPrice, err = sqlutil.FromNumeric(current); err != nil {
		return nil, err
	}
	if a.BidIncrement, err = sqlutil.FromNumeric(incr); err != nil {
		return nil, err
	}
	a.CurrentWinnerID = sqlutil.FromNullUUID(winnerID)
	a.WinningBidID = sqlutil.FromNullUUID(winningBidID)
	return &a, nil
}

func scanBid(row pgx.Row) (*models.Bid, error) {
	var (
		b      models.Bid
		amount string
		status string
	)
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &status, &b.PlacedAt); err != nil {
		return nil, err
	}
	d, err := sqlutil.FromNumeric(amount)
	if err != nil {
		return nil, err
	}
	b.Amount = d
	b.Status = models.BidStatus(status)
	return &b, nil
}
