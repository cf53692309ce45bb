package api

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// User is the authenticated SmartSwipe user
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	PhotoURL      string `json:"photoUrl,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// AuthSession carries the bearer credential issued at login
type AuthSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// AuthResponse is returned by signup, login and me
type AuthResponse struct {
	Message string      `json:"message,omitempty"`
	User    User        `json:"user"`
	Session AuthSession `json:"session"`
}

// SignupData is the signup request body
type SignupData struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginData is the login request body
type LoginData struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileUpdate holds the profile fields to change; empty fields are left alone
type ProfileUpdate struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// LinkedAccount is a bank account linked through the aggregation widget
type LinkedAccount struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	InstitutionName string `json:"institutionName"`
	Mask            string `json:"mask"`
}

// Category is a transaction category. The backend sends either a string or
// a list of strings (most general first); lists are joined with ", ".
type Category string

// UnmarshalJSON accepts a string, a list of strings or null
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Category(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*c = Category(strings.Join(list, ", "))
	return nil
}

// Primary returns the most general category, or "Other" when there is none
func (c Category) Primary() string {
	first, _, _ := strings.Cut(string(c), ", ")
	if first = strings.TrimSpace(first); first == "" {
		return "Other"
	}
	return first
}

// Transaction is a single card or bank transaction
type Transaction struct {
	ID              string          `json:"id"`
	Date            string          `json:"date"`
	Name            string          `json:"name"`
	Amount          decimal.Decimal `json:"amount"`
	Category        Category        `json:"category"`
	AccountID       string          `json:"account_id"`
	AccountName     string          `json:"account_name,omitempty"`
	InstitutionName string          `json:"institution_name,omitempty"`
}

// Bucket aggregates transactions for one category, account or institution
type Bucket struct {
	Name   string          `json:"name,omitempty"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// TransactionSummary is the aggregated transaction view
type TransactionSummary struct {
	TotalTransactions int               `json:"total_transactions"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	Income            decimal.Decimal   `json:"income"`
	Expenses          decimal.Decimal   `json:"expenses"`
	Categories        map[string]Bucket `json:"categories"`
	Accounts          map[string]Bucket `json:"accounts"`
	Institutions      map[string]Bucket `json:"institutions"`
}

// EmptyTransactionSummary is shown when no summary could be loaded
func EmptyTransactionSummary() TransactionSummary {
	return TransactionSummary{
		Categories:   map[string]Bucket{},
		Accounts:     map[string]Bucket{},
		Institutions: map[string]Bucket{},
	}
}

// CashbackSummary is the cashback earned with the cards actually used
type CashbackSummary struct {
	TotalCashback  decimal.Decimal            `json:"total_cashback"`
	CashbackByCard map[string]decimal.Decimal `json:"cashback_by_card"`
	SpendingByCard map[string]decimal.Decimal `json:"spending_by_card"`
}

// EmptyCashbackSummary is shown when no summary could be loaded
func EmptyCashbackSummary() CashbackSummary {
	return CashbackSummary{
		CashbackByCard: map[string]decimal.Decimal{},
		SpendingByCard: map[string]decimal.Decimal{},
	}
}

// CardNames returns the cards present in the summary
func (s CashbackSummary) CardNames() []string {
	names := make([]string, 0, len(s.CashbackByCard))
	for name := range s.CashbackByCard {
		names = append(names, name)
	}
	return names
}

// Opportunity is a past purchase that a different card would have rewarded better
type Opportunity struct {
	Date            string          `json:"date"`
	Merchant        string          `json:"merchant"`
	Amount          decimal.Decimal `json:"amount"`
	ActualCard      string          `json:"actual_card"`
	ActualCashback  decimal.Decimal `json:"actual_cashback"`
	OptimalCard     string          `json:"optimal_card"`
	OptimalCashback decimal.Decimal `json:"optimal_cashback"`
	Improvement     decimal.Decimal `json:"improvement"`
}

// OptimalCashback compares actual cashback with the best card per purchase
type OptimalCashback struct {
	ActualTotalCashback       decimal.Decimal            `json:"actual_total_cashback"`
	OptimalTotalCashback      decimal.Decimal            `json:"optimal_total_cashback"`
	PotentialIncrease         decimal.Decimal            `json:"potential_increase"`
	ImprovementPercentage     decimal.Decimal            `json:"improvement_percentage"`
	OptimalCashbackByCard     map[string]decimal.Decimal `json:"optimal_cashback_by_card"`
	OptimalSpendingByCard     map[string]decimal.Decimal `json:"optimal_spending_by_card"`
	TopImprovementOpportunity []Opportunity              `json:"top_improvement_opportunities"`
}

// EmptyOptimalCashback is shown when no recommendation could be loaded
func EmptyOptimalCashback() OptimalCashback {
	return OptimalCashback{
		OptimalCashbackByCard:     map[string]decimal.Decimal{},
		OptimalSpendingByCard:     map[string]decimal.Decimal{},
		TopImprovementOpportunity: []Opportunity{},
	}
}

// CardExtraInfo holds the descriptive fields of a card
type CardExtraInfo struct {
	AnnualFee   string `json:"annual_fee"`
	CardName    string `json:"card_name"`
	Notes       string `json:"notes"`
	SignupBonus string `json:"signup_bonus"`
}

// CardRewardDetails describes the reward structure of one card
type CardRewardDetails struct {
	CardType         string        `json:"card_type"`
	RewardCategories []string      `json:"reward_categories"`
	ExtraInfo        CardExtraInfo `json:"extra_info"`
	RawContent       string        `json:"raw_content"`
}
