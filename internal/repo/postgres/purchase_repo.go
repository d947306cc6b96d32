package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrTransitionConflict  = errors.New("purchase transition conflict")
	ErrProviderRefConflict = errors.New("provider reference already bound to another purchase")
)

// PurchaseRepo is the durable store of purchase attempts. Records are never
// deleted; they stay as the audit trail of every purchase from intent to
// terminal outcome.
type PurchaseRepo struct {
	pool *pgxpool.Pool
}

type PurchaseRecord struct {
	ID                string
	Provider          string
	ProviderReference *string
	PurchaserID       int64
	ContactAddress    *string
	Plan              string
	Status            string
	CreatedAt         time.Time
	ApprovedAt        *time.Time
	ExpiresAt         *time.Time
}

// TransitionParams describes one atomic compare-and-set against a record.
// ExpectedStatus guards the write: when the row's status no longer matches,
// the update hits zero rows and the caller gets ErrTransitionConflict.
type TransitionParams struct {
	RecordID       string
	ExpectedStatus string
	NewStatus      string
	// ProviderRef is bound only while the record carries none; an already
	// bound reference is never overwritten.
	ProviderRef string
	ApprovedAt  *time.Time
	ExpiresAt   *time.Time
}

const purchaseColumns = `
	id,
	provider,
	provider_reference,
	purchaser_id,
	contact_address,
	plan,
	status,
	created_at,
	approved_at,
	expires_at`

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func (r *PurchaseRepo) CreatePending(ctx context.Context, purchaserID int64, provider, plan string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	plan = strings.ToLower(strings.TrimSpace(plan))
	if purchaserID <= 0 || provider == "" || plan == "" {
		return PurchaseRecord{}, fmt.Errorf("invalid create pending payload")
	}

	recordID := uuid.NewString()
	rec, err := scanPurchaseRow(r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	id,
	provider,
	purchaser_id,
	plan,
	status,
	created_at
) VALUES ($1, $2, $3, $4, 'pending', NOW())
RETURNING`+purchaseColumns, recordID, provider, purchaserID, plan))
	if err != nil {
		return PurchaseRecord{}, fmt.Errorf("insert pending purchase: %w", err)
	}
	return rec, nil
}

// AttachContact sets the contact address on a specific record.
// A missing record is a silent no-op.
func (r *PurchaseRepo) AttachContact(ctx context.Context, recordID, contact string) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	contact = normalizeContact(contact)
	if strings.TrimSpace(recordID) == "" || contact == "" {
		return fmt.Errorf("invalid attach contact payload")
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE purchases
SET contact_address = $2
WHERE id = $1
`, recordID, contact); err != nil {
		return fmt.Errorf("attach contact to purchase: %w", err)
	}
	return nil
}

// AttachContactForPurchaser sets the contact address on the purchaser's most
// recent record. A purchaser without records is a silent no-op.
func (r *PurchaseRepo) AttachContactForPurchaser(ctx context.Context, purchaserID int64, contact string) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	contact = normalizeContact(contact)
	if purchaserID <= 0 || contact == "" {
		return fmt.Errorf("invalid attach contact payload")
	}

	if _, err := r.pool.Exec(ctx, `
UPDATE purchases
SET contact_address = $2
WHERE id = (
	SELECT id
	FROM purchases
	WHERE purchaser_id = $1
	ORDER BY created_at DESC, id DESC
	LIMIT 1
)
`, purchaserID, contact); err != nil {
		return fmt.Errorf("attach contact to latest purchase: %w", err)
	}
	return nil
}

func (r *PurchaseRepo) FindByProviderReference(ctx context.Context, provider, ref string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	ref = strings.TrimSpace(ref)
	if provider == "" || ref == "" {
		return PurchaseRecord{}, ErrPurchaseNotFound
	}

	rec, err := scanPurchaseRow(r.pool.QueryRow(ctx, `
SELECT`+purchaseColumns+`
FROM purchases
WHERE provider = $1
  AND provider_reference = $2
`, provider, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase by provider reference: %w", err)
	}
	return rec, nil
}

// FindByContact returns the most recently created record for a contact
// address; ties on created_at break toward the lexically larger id so the
// choice stays deterministic.
func (r *PurchaseRepo) FindByContact(ctx context.Context, contact string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	contact = normalizeContact(contact)
	if contact == "" {
		return PurchaseRecord{}, ErrPurchaseNotFound
	}

	rec, err := scanPurchaseRow(r.pool.QueryRow(ctx, `
SELECT`+purchaseColumns+`
FROM purchases
WHERE contact_address = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
`, contact))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase by contact: %w", err)
	}
	return rec, nil
}

func (r *PurchaseRepo) MostRecentFor(ctx context.Context, purchaserID int64) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if purchaserID <= 0 {
		return PurchaseRecord{}, ErrPurchaseNotFound
	}

	rec, err := scanPurchaseRow(r.pool.QueryRow(ctx, `
SELECT`+purchaseColumns+`
FROM purchases
WHERE purchaser_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
`, purchaserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find latest purchase for purchaser: %w", err)
	}
	return rec, nil
}

// Transition applies one status change as a single compare-and-set. The
// provider reference binds only while NULL and approved_at/expires_at are set
// at most once; re-deliveries of an approval therefore cannot move them.
func (r *PurchaseRepo) Transition(ctx context.Context, params TransitionParams) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(params.RecordID) == "" || params.ExpectedStatus == "" || params.NewStatus == "" {
		return PurchaseRecord{}, fmt.Errorf("invalid transition payload")
	}

	var out PurchaseRecord
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		rec, err := scanPurchaseRow(tx.QueryRow(txCtx, `
UPDATE purchases
SET
	status = $3,
	provider_reference = COALESCE(provider_reference, NULLIF($4, '')),
	approved_at = COALESCE(approved_at, $5),
	expires_at = COALESCE(expires_at, $6)
WHERE id = $1
  AND status = $2
RETURNING`+purchaseColumns,
			params.RecordID,
			params.ExpectedStatus,
			params.NewStatus,
			strings.TrimSpace(params.ProviderRef),
			params.ApprovedAt,
			params.ExpiresAt,
		))
		if err == nil {
			out = rec
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrProviderRefConflict
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("transition purchase: %w", err)
		}

		// Zero rows: either the record is gone or a concurrent writer won.
		var exists bool
		if err := tx.QueryRow(txCtx, `
SELECT EXISTS (SELECT 1 FROM purchases WHERE id = $1)
`, params.RecordID).Scan(&exists); err != nil {
			return fmt.Errorf("check purchase existence: %w", err)
		}
		if !exists {
			return ErrPurchaseNotFound
		}
		return ErrTransitionConflict
	})
	if err != nil {
		return PurchaseRecord{}, err
	}
	return out, nil
}

// ListStalePending returns pending records that carry a provider reference
// and predate the cutoff, oldest first. The recheck job feeds them back
// through the reconciliation engine.
func (r *PurchaseRepo) ListStalePending(ctx context.Context, provider string, olderThan time.Time, limit int) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" || limit <= 0 {
		return nil, fmt.Errorf("invalid stale pending query")
	}

	rows, err := r.pool.Query(ctx, `
SELECT`+purchaseColumns+`
FROM purchases
WHERE provider = $1
  AND status = 'pending'
  AND provider_reference IS NOT NULL
  AND created_at < $2
ORDER BY created_at ASC
LIMIT $3
`, provider, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending purchases: %w", err)
	}
	defer rows.Close()

	var out []PurchaseRecord
	for rows.Next() {
		rec, err := scanPurchaseRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale pending purchase: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale pending purchases: %w", err)
	}
	return out, nil
}

func scanPurchaseRow(row pgx.Row) (PurchaseRecord, error) {
	var rec PurchaseRecord
	if err := row.Scan(
		&rec.ID,
		&rec.Provider,
		&rec.ProviderReference,
		&rec.PurchaserID,
		&rec.ContactAddress,
		&rec.Plan,
		&rec.Status,
		&rec.CreatedAt,
		&rec.ApprovedAt,
		&rec.ExpiresAt,
	); err != nil {
		return PurchaseRecord{}, err
	}
	return rec, nil
}

func normalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}
