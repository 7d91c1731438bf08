// Package standing tracks late returns per borrower, warns borrowers who
// are close to the limit and bars those who reach it from making new
// reservations for a while.
package standing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
)

// ErrBorrowerRestricted is returned by Check while a restriction is in
// force.
var ErrBorrowerRestricted = errors.New("borrower is restricted")

// Policy decides when a borrower is warned and when restricted.  Both
// thresholds count every late return on record, not a streak.
type Policy struct {
	// Threshold is the number of late returns from which each further
	// late return restricts the borrower.
	Threshold int
	// WarningThreshold is the late return count at which the borrower is
	// warned.  Zero disables the warning.
	WarningThreshold int
	// RestrictionPeriod is how long a restriction lasts.
	RestrictionPeriod time.Duration
}

// DefaultPolicy warns at two late returns and restricts for thirty days
// from the third.
var DefaultPolicy = Policy{Threshold: 3, WarningThreshold: 2, RestrictionPeriod: 30 * 24 * time.Hour}

// Outcome reports what a recorded return did to the borrower's standing.
type Outcome struct {
	Standing model.BorrowerStanding
	// RestrictedUntil is set when this return triggered a restriction.
	RestrictedUntil *time.Time
	// Warned is set when this return brought the borrower to the warning
	// threshold.
	Warned bool
}

// Service reads and updates borrower standings.
type Service struct {
	repo   *repository.StandingRepo
	policy Policy
}

// NewService constructs a Service.  A zero threshold falls back to
// DefaultPolicy.
func NewService(repo *repository.StandingRepo, p Policy) *Service {
	if p.Threshold <= 0 {
		p.Threshold = DefaultPolicy.Threshold
	}
	if p.RestrictionPeriod <= 0 {
		p.RestrictionPeriod = DefaultPolicy.RestrictionPeriod
	}
	return &Service{repo: repo, policy: p}
}

// Policy returns the effective policy.
func (s *Service) Policy() Policy { return s.policy }

// Check fails with ErrBorrowerRestricted when the borrower may not reserve
// at now.
func (s *Service) Check(ctx context.Context, tx *sql.Tx, borrowerID uint64, now time.Time) error {
	st, err := s.repo.GetTx(ctx, tx, borrowerID)
	if err != nil {
		return err
	}
	if st.Restricted(now) {
		return fmt.Errorf("%w until %s", ErrBorrowerRestricted, st.RestrictedUntil.Format(time.RFC3339))
	}
	return nil
}

// RecordLateReturn counts a late return.  Reaching the warning threshold
// sets Outcome.Warned; at or past the restriction threshold every late
// return restricts the borrower for a full period from now.
func (s *Service) RecordLateReturn(ctx context.Context, tx *sql.Tx, borrowerID uint64, now time.Time) (Outcome, error) {
	st, err := s.repo.AddLateTx(ctx, tx, borrowerID, now)
	if err != nil {
		return Outcome{}, err
	}
	if st.LateCount < s.policy.Threshold {
		warned := s.policy.WarningThreshold > 0 && st.LateCount == s.policy.WarningThreshold
		return Outcome{Standing: *st, Warned: warned}, nil
	}
	until := now.Add(s.policy.RestrictionPeriod).UTC().Truncate(time.Second)
	if err := s.repo.RestrictTx(ctx, tx, borrowerID, until, now); err != nil {
		return Outcome{}, err
	}
	st.RestrictedUntil = &until
	return Outcome{Standing: *st, RestrictedUntil: &until}, nil
}

// RecordOnTimeReturn ends the current run of late returns.  The lifetime
// count that drives the policy is unchanged.
func (s *Service) RecordOnTimeReturn(ctx context.Context, tx *sql.Tx, borrowerID uint64, now time.Time) error {
	return s.repo.ResetConsecutiveTx(ctx, tx, borrowerID, now)
}

// Get returns the borrower's current standing.
func (s *Service) Get(ctx context.Context, borrowerID uint64) (*model.BorrowerStanding, error) {
	return s.repo.Get(ctx, borrowerID)
}

// Lift clears a restriction before it ends.  It reports false when the
// borrower was not restricted.
func (s *Service) Lift(ctx context.Context, borrowerID uint64, now time.Time) (bool, error) {
	return s.repo.Lift(ctx, borrowerID, now)
}

// LiftExpired clears every restriction that has run out and returns how
// many were cleared.
func (s *Service) LiftExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.repo.LiftExpired(ctx, now)
	return int(n), err
}
