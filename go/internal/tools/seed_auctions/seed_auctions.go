package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/fishmarket/go/internal/auction"
	"github.com/mcdev12/fishmarket/go/internal/auth"
	"github.com/mcdev12/fishmarket/go/internal/dbconfig"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/shopspring/decimal"
)

// User mirrors the users entries of the JSON snapshot
type User struct {
	ID       uuid.UUID `json:"id"`
	IsActive bool      `json:"is_active"`
	Role     string    `json:"role"`
}

// Auction mirrors the auction entries of the JSON snapshot. Times are
// offsets from now so the snapshot stays usable.
type Auction struct {
	ID            uuid.UUID            `json:"id"`
	ItemID        uuid.UUID            `json:"item_id"`
	SellerID      uuid.UUID            `json:"seller_id"`
	Status        models.AuctionStatus `json:"status"`
	StartsIn      string               `json:"starts_in"`
	Duration      string               `json:"duration"`
	StartingPrice decimal.Decimal      `json:"starting_price"`
	BidIncrement  decimal.Decimal      `json:"bid_increment"`
}

type Snapshot struct {
	Users    []User    `json:"users"`
	Auctions []Auction `json:"auctions"`
}

func main() {
	ctx := context.Background()

	// 1) Load the JSON snapshot
	data, err := os.ReadFile("go/internal/assets/auctions.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert users and auctions
	inserted, skipped, errs := seedUsers(ctx, pool, snapshot.Users)
	fmt.Printf("Users seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		len(snapshot.Users), inserted, skipped, errs)

	inserted, skipped, errs = seedAuctions(ctx, auction.NewPostgresRepository(pool), snapshot.Auctions, time.Now().UTC())
	fmt.Printf("Auctions seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		len(snapshot.Auctions), inserted, skipped, errs)

	// 4) Print development tokens when a secret is configured
	secret := os.Getenv("AUCTION_JWT_SECRET")
	if secret == "" {
		return
	}
	for _, u := range snapshot.Users {
		token, err := auth.SignToken(secret, u.ID, u.Role, time.Now().Add(24*time.Hour))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error signing token for %s: %v\n", u.ID, err)
			continue
		}
		fmt.Printf("%s %s\n", u.ID, token)
	}
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, users []User) (inserted, skipped, errs int) {
	for _, u := range users {
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO users (id, is_active) VALUES ($1, $2)
            ON CONFLICT (id) DO NOTHING
        `, u.ID, u.IsActive)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting user %s: %v\n", u.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, errs
}

func seedAuctions(ctx context.Context, repo auction.Repository, auctions []Auction, now time.Time) (inserted, skipped, errs int) {
	for _, a := range auctions {
		_, err := repo.GetAuction(ctx, a.ID)
		switch {
		case err == nil:
			skipped++
			continue
		case !errors.Is(err, auction.ErrAuctionNotFound):
			fmt.Fprintf(os.Stderr, "error looking up auction %s: %v\n", a.ID, err)
			errs++
			continue
		}

		record, err := a.toModel(now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid auction %s: %v\n", a.ID, err)
			errs++
			continue
		}
		if err := repo.CreateAuction(ctx, record); err != nil {
			fmt.Fprintf(os.Stderr, "error inserting auction %s: %v\n", a.ID, err)
			errs++
			continue
		}
		inserted++
	}
	return inserted, skipped, errs
}

func (a Auction) toModel(now time.Time) (*models.Auction, error) {
	startsIn, err := time.ParseDuration(a.StartsIn)
	if err != nil {
		return nil, fmt.Errorf("starts_in: %w", err)
	}
	duration, err := time.ParseDuration(a.Duration)
	if err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	if duration <= 0 {
		return nil, errors.New("duration must be positive")
	}
	if a.Status != "" && !a.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", a.Status)
	}

	start := now.Add(startsIn)
	return &models.Auction{
		ID:            a.ID,
		ItemID:        a.ItemID,
		SellerID:      a.SellerID,
		Status:        a.Status,
		StartTime:     start,
		EndTime:       start.Add(duration),
		StartingPrice: a.StartingPrice,
		BidIncrement:  a.BidIncrement,
	}, nil
}
