package constants

// Static route constants
const (
	StripeWebhookRoute  = "/webhooks/stripe"
	PayPalWebhookRoute  = "/webhooks/paypal"
	ReconcileRoute      = "/api/internal/reconcile/paypal"
	AnnounceRoute       = "/api/internal/videos/announce"
	PayPalImportRoute   = "/api/internal/paypal/import"
	MembershipRoute     = "/api/v1/membership"
	PayPalClaimRoute    = "/api/v1/billing/paypal/claim"
	DiscordLinkRoute    = "/auth/discord"
	DiscordUnlinkRoute  = "/api/v1/billing/discord/unlink"
	DiscordCallbackPath = "/auth/discord/callback"
)
