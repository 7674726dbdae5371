package auction

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fishmarket/go/internal/auction/events"
	"github.com/mcdev12/fishmarket/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type task struct {
	run  func(w *auctionWorker)
	done chan struct{}
}

// decideFunc picks the next status for an auction, or fails the transition.
type decideFunc func(a *models.Auction, now time.Time) (models.AuctionStatus, error)

// auctionWorker is the single writer for one auction. Its mailbox is
// unbuffered so a task is only accepted when the worker is ready to run it.
type auctionWorker struct {
	engine    *Engine
	auctionID uuid.UUID
	tasks     chan *task
	stopped   chan struct{}

	// state caches the last record read or written; nil forces a reload.
	state *models.Auction
	// missing is set when the auction does not exist; the worker retires
	// after the current task.
	missing bool
}

func newAuctionWorker(e *Engine, auctionID uuid.UUID) *auctionWorker {
	return &auctionWorker{
		engine:    e,
		auctionID: auctionID,
		tasks:     make(chan *task),
		stopped:   make(chan struct{}),
	}
}

func (w *auctionWorker) run() {
	defer w.engine.wg.Done()

	idle := w.engine.clock.NewTimer(w.engine.cfg.WorkerIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case t := <-w.tasks:
			t.run(w)
			close(t.done)
			if w.missing {
				w.engine.retire(w)
				return
			}
			stopAndDrainTimer(idle)
			idle.Reset(w.engine.cfg.WorkerIdleTimeout)

		case <-idle.Chan():
			w.engine.retire(w)
			log.Debug().Str("auction_id", w.auctionID.String()).Msg("auction worker retired")
			return

		case <-w.engine.ctx.Done():
			w.engine.retire(w)
			return
		}
	}
}

func (w *auctionWorker) load(ctx context.Context) (*models.Auction, error) {
	if w.state != nil {
		return w.state, nil
	}
	a, err := w.engine.repo.GetAuction(ctx, w.auctionID)
	if err != nil {
		w.missing = errors.Is(err, ErrAuctionNotFound)
		return nil, w.engine.storeErr(ctx, w.auctionID, err)
	}
	w.state = a
	return a, nil
}

func (w *auctionWorker) placeBid(ctx context.Context, bidderID uuid.UUID, amount decimal.Decimal) (*BidResult, error) {
	if _, _, err := w.applyDue(ctx, false); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		state, err := w.load(ctx)
		if err != nil {
			return nil, err
		}

		now := w.engine.clock.Now().UTC()
		if err := validateBid(state, bidderID, amount, now); err != nil {
			log.Debug().
				Err(err).
				Str("auction_id", w.auctionID.String()).
				Str("user_id", bidderID.String()).
				Str("amount", amount.String()).
				Msg("bid rejected")
			if errors.Is(err, ErrOutsideBiddingWindow) && now.After(state.EndTime) {
				if _, _, cerr := w.applyDue(ctx, true); cerr != nil {
					log.Warn().Err(cerr).Str("auction_id", w.auctionID.String()).Msg("failed to close expired auction")
				}
			}
			return nil, err
		}

		bid := models.Bid{
			ID:        uuid.New(),
			AuctionID: w.auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			Status:    models.BidStatusWinning,
			PlacedAt:  now,
		}
		updated, outbid, err := w.engine.repo.CommitBid(ctx, BidCommit{Bid: bid, ExpectedVersion: state.Version})
		if err != nil {
			w.state = nil
			if errors.Is(err, ErrStaleState) && attempt < w.engine.cfg.MaxCommitRetries {
				log.Debug().Str("auction_id", w.auctionID.String()).Int("attempt", attempt).Msg("stale auction state, retrying bid")
				continue
			}
			return nil, w.engine.storeErr(ctx, w.auctionID, err)
		}
		w.state = updated

		log.Info().
			Str("auction_id", w.auctionID.String()).
			Str("bid_id", bid.ID.String()).
			Str("user_id", bidderID.String()).
			Str("amount", amount.String()).
			Msg("bid committed")

		payload := events.BidPlacedPayload{
			BidID:    bid.ID,
			BidderID: bid.BidderID,
			Amount:   bid.Amount,
			PlacedAt: bid.PlacedAt,
		}
		if outbid != nil {
			payload.PreviousBidID = &outbid.ID
			payload.PreviousBidderID = &outbid.BidderID
		}
		w.engine.emit(events.EventTypeBidPlaced, w.auctionID, now, payload)

		return &BidResult{Bid: bid, Outbid: outbid, Auction: updated.Clone()}, nil
	}
}

// applyDue performs the transitions implied by the time window, at most
// pending to active to closed.
func (w *auctionWorker) applyDue(ctx context.Context, closeExpired bool) (*models.Auction, bool, error) {
	decide := func(a *models.Auction, now time.Time) (models.AuctionStatus, error) {
		return nextDueStatus(a, now, closeExpired), nil
	}

	var changed bool
	for {
		state, stepped, err := w.setStatus(ctx, decide)
		if err != nil {
			return nil, changed, err
		}
		if !stepped {
			return state, changed, nil
		}
		changed = true
	}
}

// setStatus persists the status chosen by decide, re-deciding against fresh
// state when the stored version moved underneath.
func (w *auctionWorker) setStatus(ctx context.Context, decide decideFunc) (*models.Auction, bool, error) {
	for attempt := 0; ; attempt++ {
		state, err := w.load(ctx)
		if err != nil {
			return nil, false, err
		}

		now := w.engine.clock.Now().UTC()
		to, err := decide(state, now)
		if err != nil {
			return nil, false, err
		}
		if to == state.Status {
			return state.Clone(), false, nil
		}

		updated, err := w.engine.repo.UpdateStatus(ctx, w.auctionID, to, state.Version, now)
		if err != nil {
			w.state = nil
			if errors.Is(err, ErrStaleState) && attempt < w.engine.cfg.MaxCommitRetries {
				continue
			}
			return nil, false, w.engine.storeErr(ctx, w.auctionID, err)
		}
		w.state = updated

		log.Info().
			Str("auction_id", w.auctionID.String()).
			Str("from", string(state.Status)).
			Str("to", string(to)).
			Msg("auction status changed")

		w.engine.emit(events.EventTypeAuctionStatusChanged, w.auctionID, now, events.StatusChangedPayload{
			From:      state.Status,
			To:        to,
			ChangedAt: now,
		})
		return updated.Clone(), true, nil
	}
}

// stopAndDrainTimer stops a timer and drains its channel so it can be reset.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
