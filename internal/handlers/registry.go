package handlers

// AppHandlers holds every HTTP handler in the application.
type AppHandlers struct {
	AuthHandler         *AuthHandler
	TransactionHandler  *TransactionHandler
	SubscriptionHandler *SubscriptionHandler
	WebhookHandler      *WebhookHandler
	EnrollmentHandler   *EnrollmentHandler
}
