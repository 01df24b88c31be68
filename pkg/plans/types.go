package plans

// Resource represents a countable user resource type.
type Resource string

const (
	ResourceLinks    Resource = "links"
	ResourceQRCodes  Resource = "qr_codes"
	ResourceBioPages Resource = "bio_pages"
)

const (
	// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility)
	Unlimited int64 = -1
)

// Feature represents a plan-specific capability that can be enabled/disabled.
type Feature string

const (
	FeatureCustomDomain   Feature = "custom_domain"
	FeatureLinkAnalytics  Feature = "link_analytics"
	FeatureQRCustomColors Feature = "qr_custom_colors"
	FeatureBioPage        Feature = "bio_page"
	FeatureAPI            Feature = "api"
	FeatureUTMBuilder     Feature = "utm_builder"
	FeatureNoBranding     Feature = "no_branding"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  // smallest currency unit (cents for USD)
	Currency string // ISO 4217 currency code
}

// BillingInterval represents the billing frequency for a subscription plan.
type BillingInterval string

const (
	BillingIntervalNone    BillingInterval = "none" // free plans with no billing
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Duration returns the length of one paid period as calendar months.
// Free plans have no period and return 0.
func (i BillingInterval) Months() int {
	switch i {
	case BillingIntervalMonthly:
		return 1
	case BillingIntervalAnnual:
		return 12
	default:
		return 0
	}
}
