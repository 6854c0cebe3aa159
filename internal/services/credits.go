package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
	"gorm.io/gorm"
)

// Budget decides whether an owner may start another proposal.
type Budget interface {
	Charge(ctx context.Context, owner, role string, credits int) error
	// Refund returns credits charged for a proposal that never started.
	Refund(ctx context.Context, owner, role string, credits int) error
	LogUsage(ctx context.Context, usage *models.UsageLog) error
}

// Unlimited is the budget used when no credits ledger is configured.
type Unlimited struct{}

func (Unlimited) Charge(context.Context, string, string, int) error { return nil }

func (Unlimited) Refund(context.Context, string, string, int) error { return nil }

func (Unlimited) LogUsage(context.Context, *models.UsageLog) error { return nil }

type CreditsService struct {
	db *gorm.DB
}

func NewCreditsService(db *gorm.DB) *CreditsService {
	return &CreditsService{db: db}
}

// GetOwnerCredits retrieves the ledger row of an owner
func (s *CreditsService) GetOwnerCredits(ctx context.Context, owner string) (*models.OwnerCredits, error) {
	var credits models.OwnerCredits
	if err := s.db.WithContext(ctx).Where("owner = ?", owner).First(&credits).Error; err != nil {
		return nil, err
	}
	return &credits, nil
}

// ensureOwner opens a ledger row with the role's initial credits on first use
func (s *CreditsService) ensureOwner(tx *gorm.DB, owner, role string) error {
	row := models.OwnerCredits{
		Owner:   owner,
		Role:    role,
		Credits: models.InitialCreditsForRole(role),
	}
	return tx.Where(models.OwnerCredits{Owner: owner}).FirstOrCreate(&row).Error
}

// Charge deducts credits for one proposal.
// If already negative, the proposal is refused (must top up first).
// If positive, the balance may go negative by one proposal (overdraft grace).
// Owners with unlimited credits (admins) are not charged.
func (s *CreditsService) Charge(ctx context.Context, owner, role string, credits int) error {
	if models.HasUnlimitedCredits(role) {
		return nil
	}
	if owner == "" {
		return fmt.Errorf("%w: anonymous callers have no credits", variation.ErrBudget)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureOwner(tx, owner, role); err != nil {
			return err
		}

		// Lock the row to prevent race conditions
		var row models.OwnerCredits
		if err := tx.Raw("SELECT * FROM owner_credits WHERE owner = ? AND deleted_at IS NULL FOR UPDATE", owner).
			Scan(&row).Error; err != nil {
			return err
		}

		if row.Credits < 0 {
			return fmt.Errorf("%w: account in overdraft (%d credits)", variation.ErrBudget, row.Credits)
		}

		row.Credits -= credits
		return tx.Save(&row).Error
	})
}

// Refund gives back credits taken by Charge.
func (s *CreditsService) Refund(ctx context.Context, owner, role string, credits int) error {
	if models.HasUnlimitedCredits(role) || owner == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.OwnerCredits{}).
		Where("owner = ?", owner).
		Update("credits", gorm.Expr("credits + ?", credits)).Error
}

// LogUsage records a charged proposal
func (s *CreditsService) LogUsage(ctx context.Context, usage *models.UsageLog) error {
	return s.db.WithContext(ctx).Create(usage).Error
}

// UsageStats aggregates charged proposals of an owner
type UsageStats struct {
	TotalProposals   int64 `json:"total_proposals"`
	TotalCreditsUsed int64 `json:"total_credits_used"`
}

// GetUsageStats sums the usage log of an owner between from and to (zero times are open ends)
func (s *CreditsService) GetUsageStats(ctx context.Context, owner string, from, to time.Time) (*UsageStats, error) {
	var stats UsageStats

	query := s.db.WithContext(ctx).Model(&models.UsageLog{}).Where("owner = ?", owner)
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at <= ?", to)
	}

	if err := query.Select(
		"COUNT(*) as total_proposals",
		"COALESCE(SUM(credits_charged), 0) as total_credits_used",
	).Scan(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
