package settings

// System setting keys and their defaults.
const (
	// SiteNameKey is the UI site name.
	SiteNameKey = "site_name"
	// DefaultSiteName is the fallback UI site name.
	DefaultSiteName = "fimai"

	// RegistrationOpenKey toggles invite-code registration.
	RegistrationOpenKey = "registration_open"
	// DefaultRegistrationOpen allows registration.
	DefaultRegistrationOpen = true

	// GuestAccessEnabledKey toggles access-code guest sign-in.
	GuestAccessEnabledKey = "guest_access_enabled"
	// DefaultGuestAccessEnabled allows guest sign-in.
	DefaultGuestAccessEnabled = true

	// UsageRetentionDaysKey overrides the configured token usage retention.
	UsageRetentionDaysKey = "usage_retention_days"

	// AnnouncementKey is an optional banner shown to signed-in users.
	AnnouncementKey = "announcement"
)

// PublicKeys lists settings exposed by the unauthenticated config endpoint.
var PublicKeys = []string{SiteNameKey, RegistrationOpenKey, GuestAccessEnabledKey, AnnouncementKey}
