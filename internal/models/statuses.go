package models

type UserStatus string
type UserRole string
type TransactionStatus string
type SubscriptionStatus string
type BillingInterval string
type WebhookOutcome string
type GrantStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"

	UserRoleMember UserRole = "member"
	UserRoleAdmin  UserRole = "admin"

	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"

	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"

	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"

	WebhookOutcomeAccepted  WebhookOutcome = "accepted"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeRejected  WebhookOutcome = "rejected"

	GrantStatusPending GrantStatus = "pending"
	GrantStatusGranted GrantStatus = "granted"
	GrantStatusFailed  GrantStatus = "failed"
	GrantStatusRevoked GrantStatus = "revoked"
)

// IsTerminal reports whether a transaction status permits no further
// forward transition. Completed may still move to refunded.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusRefunded || s == TransactionStatusFailed
}
