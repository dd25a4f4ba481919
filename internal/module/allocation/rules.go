package allocation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/kislikjeka/fundflow/internal/module/org"
	"github.com/kislikjeka/fundflow/pkg/money"
)

// RuleType names a kind of spending rule
type RuleType string

const (
	RuleTxnLimit            RuleType = "TXN_LIMIT"
	RuleDailyLimit          RuleType = "DAILY_LIMIT"
	RuleMonthlyLimit        RuleType = "MONTHLY_LIMIT"
	RuleTimeLock            RuleType = "TIME_LOCK"
	RuleWhitelistRecipients RuleType = "WHITELIST_RECIPIENTS"
	RuleRequiresApproval    RuleType = "REQUIRES_APPROVAL"
)

// Rule is a spending rule attached to an allocation. At most one rule per type.
type Rule struct {
	ID           uuid.UUID  `json:"id"`
	AllocationID uuid.UUID  `json:"allocation_id"`
	Type         RuleType   `json:"type"`
	Config       RuleConfig `json:"config"`
	Enabled      bool       `json:"enabled"`
	CreatedBy    uuid.UUID  `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RuleConfig is the typed configuration of one rule type.
// Configs are validated when written, so Check only sees valid ones.
type RuleConfig interface {
	Type() RuleType
	Validate() error
	Check(sc *SpendContext) error
}

// SpendContext is what rules see of a spend. It is built while the allocation
// wallet is locked, so SpentSince reflects every committed spend.
type SpendContext struct {
	Amount          *big.Int
	RecipientUserID uuid.UUID
	SpenderRole     org.Role
	Now             time.Time
	// SpentSince sums the allocation wallet's debits at or after since
	SpentSince func(since time.Time) (*big.Int, error)
}

// DecodeRuleConfig parses raw JSON into the config type of ruleType and validates it
func DecodeRuleConfig(ruleType RuleType, raw []byte) (RuleConfig, error) {
	var cfg RuleConfig
	switch ruleType {
	case RuleTxnLimit:
		cfg = &TxnLimit{}
	case RuleDailyLimit:
		cfg = &DailyLimit{}
	case RuleMonthlyLimit:
		cfg = &MonthlyLimit{}
	case RuleTimeLock:
		cfg = &TimeLock{}
	case RuleWhitelistRecipients:
		cfg = &WhitelistRecipients{}
	case RuleRequiresApproval:
		cfg = &RequiresApproval{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRuleType, ruleType)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRuleConfig, ruleType, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TxnLimit caps a single spend
type TxnLimit struct {
	MaxAmount *money.BigInt `json:"max_amount"`
}

func (c *TxnLimit) Type() RuleType  { return RuleTxnLimit }
func (c *TxnLimit) Validate() error { return validMax(c.Type(), c.MaxAmount) }

func (c *TxnLimit) Check(sc *SpendContext) error {
	if sc.Amount.Cmp(c.MaxAmount.Int) > 0 {
		return fmt.Errorf("%w: %s: %s exceeds the per-transaction limit of %s",
			ErrRuleViolated, c.Type(), sc.Amount, c.MaxAmount.Int)
	}
	return nil
}

// DailyLimit caps spending per UTC calendar day
type DailyLimit struct {
	MaxAmount *money.BigInt `json:"max_amount"`
}

func (c *DailyLimit) Type() RuleType  { return RuleDailyLimit }
func (c *DailyLimit) Validate() error { return validMax(c.Type(), c.MaxAmount) }

func (c *DailyLimit) Check(sc *SpendContext) error {
	now := sc.Now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return checkWindow(c.Type(), c.MaxAmount.Int, start, sc)
}

// MonthlyLimit caps spending per UTC calendar month
type MonthlyLimit struct {
	MaxAmount *money.BigInt `json:"max_amount"`
}

func (c *MonthlyLimit) Type() RuleType  { return RuleMonthlyLimit }
func (c *MonthlyLimit) Validate() error { return validMax(c.Type(), c.MaxAmount) }

func (c *MonthlyLimit) Check(sc *SpendContext) error {
	now := sc.Now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return checkWindow(c.Type(), c.MaxAmount.Int, start, sc)
}

func validMax(t RuleType, max *money.BigInt) error {
	if !max.IsPositive() {
		return fmt.Errorf("%w: %s: max_amount must be positive", ErrInvalidRuleConfig, t)
	}
	return nil
}

func checkWindow(t RuleType, max *big.Int, since time.Time, sc *SpendContext) error {
	spent, err := sc.SpentSince(since)
	if err != nil {
		return fmt.Errorf("failed to sum spending for %s: %w", t, err)
	}
	total := new(big.Int).Add(spent, sc.Amount)
	if total.Cmp(max) > 0 {
		return fmt.Errorf("%w: %s: %s already spent, %s more exceeds the limit of %s",
			ErrRuleViolated, t, spent, sc.Amount, max)
	}
	return nil
}

// TimeLock allows spending only within an hour window on given weekdays
type TimeLock struct {
	StartHour int            `json:"start_hour"` // inclusive, 0-23
	EndHour   int            `json:"end_hour"`   // exclusive, 1-24
	Days      []time.Weekday `json:"days,omitempty"`
	Timezone  string         `json:"timezone,omitempty"` // IANA name, UTC when empty
}

func (c *TimeLock) Type() RuleType { return RuleTimeLock }

func (c *TimeLock) Validate() error {
	if c.StartHour < 0 || c.StartHour > 23 || c.EndHour < 1 || c.EndHour > 24 || c.StartHour >= c.EndHour {
		return fmt.Errorf("%w: %s: need 0 <= start_hour < end_hour <= 24", ErrInvalidRuleConfig, c.Type())
	}
	for _, d := range c.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: %s: days are 0 (Sunday) to 6 (Saturday)", ErrInvalidRuleConfig, c.Type())
		}
	}
	if _, err := c.location(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRuleConfig, c.Type(), err)
	}
	return nil
}

func (c *TimeLock) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c *TimeLock) Check(sc *SpendContext) error {
	loc, err := c.location()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRuleConfig, c.Type(), err)
	}
	local := sc.Now.In(loc)

	if len(c.Days) > 0 {
		allowed := false
		for _, d := range c.Days {
			if local.Weekday() == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s: spending is not allowed on %s", ErrRuleViolated, c.Type(), local.Weekday())
		}
	}

	if h := local.Hour(); h < c.StartHour || h >= c.EndHour {
		return fmt.Errorf("%w: %s: spending is allowed from %02d:00 to %02d:00", ErrRuleViolated, c.Type(), c.StartHour, c.EndHour)
	}
	return nil
}

// WhitelistRecipients restricts who may be paid
type WhitelistRecipients struct {
	UserIDs []uuid.UUID `json:"user_ids"`
}

func (c *WhitelistRecipients) Type() RuleType { return RuleWhitelistRecipients }

func (c *WhitelistRecipients) Validate() error {
	if len(c.UserIDs) == 0 {
		return fmt.Errorf("%w: %s: user_ids must not be empty", ErrInvalidRuleConfig, c.Type())
	}
	return nil
}

func (c *WhitelistRecipients) Check(sc *SpendContext) error {
	for _, id := range c.UserIDs {
		if id == sc.RecipientUserID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s: recipient %s is not whitelisted", ErrRuleViolated, c.Type(), sc.RecipientUserID)
}

// RequiresApproval reserves spends at or above Threshold for the approver roles
type RequiresApproval struct {
	Threshold     *money.BigInt `json:"threshold"`
	ApproverRoles []org.Role    `json:"approver_roles"`
}

func (c *RequiresApproval) Type() RuleType { return RuleRequiresApproval }

func (c *RequiresApproval) Validate() error {
	if !c.Threshold.IsPositive() {
		return fmt.Errorf("%w: %s: threshold must be positive", ErrInvalidRuleConfig, c.Type())
	}
	if len(c.ApproverRoles) == 0 {
		return fmt.Errorf("%w: %s: approver_roles must not be empty", ErrInvalidRuleConfig, c.Type())
	}
	for _, r := range c.ApproverRoles {
		if !r.IsValid() {
			return fmt.Errorf("%w: %s: unknown role %q", ErrInvalidRuleConfig, c.Type(), r)
		}
	}
	return nil
}

func (c *RequiresApproval) Check(sc *SpendContext) error {
	if sc.Amount.Cmp(c.Threshold.Int) < 0 {
		return nil
	}
	for _, r := range c.ApproverRoles {
		if sc.SpenderRole == r {
			return nil
		}
	}
	return fmt.Errorf("%w: %s: spends of %s or more need one of %v", ErrApprovalRequired, c.Type(), c.Threshold.Int, c.ApproverRoles)
}

// evaluate runs every enabled rule, stopping at the first violation
func evaluate(rules []*Rule, sc *SpendContext) error {
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if err := r.Config.Check(sc); err != nil {
			return err
		}
	}
	return nil
}
