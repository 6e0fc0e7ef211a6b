package domain

// Registration attribute names used in partial updates and conditions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	FieldContactKey       = "contact_key"
	FieldChannel          = "channel"
	FieldContactPlain     = "contact_plain"
	FieldContactHash      = "contact_hash"
	FieldProvider         = "provider"
	FieldState            = "state"
	FieldVerified         = "verified"
	FieldVerificationCode = "verification_code"
	FieldCodeIssuedAt     = "code_issued_at"
	FieldResendCount      = "resend_count"
	FieldUsername         = "username"
	FieldUserID           = "user_id"
	FieldReferralID       = "referral_id"
	FieldReferrals        = "referrals"
	FieldTransactionID    = "transaction_id"
	FieldDeviceType       = "device_type"
	FieldIsRegistered     = "is_registered"
	FieldIsTestingSystem  = "is_testing_system"
	FieldReferralCredited = "referral_credited"
	FieldRegisteredAt     = "registered_at"
	FieldUpdatedAt        = "updated_at"

	FieldOnboardingCommunityRewarded = "onboarding_community_rewarded"
	FieldOnboardingCommunities       = "onboarding_communities"
	FieldOnboardingDeviceSwitched    = "onboarding_device_switched"
	FieldOnboardingSharedLink        = "onboarding_shared_link"
)

// Update is a conditional single-record mutation. Stores apply it atomically:
// either every condition holds and all changes are written, or nothing is and
// the store returns ErrConflict.
type Update struct {
	Set      map[string]interface{}
	AddToSet map[string][]string
	Expect   Condition
}

// Condition guards an Update. Zero value only requires the record to exist.
type Condition struct {
	// State, when set, must equal the stored state.
	State State
	// Unregistered requires is_registered = false.
	Unregistered bool
	// Absent attributes must not exist yet (first-write-wins).
	Absent []string
	// Unclaimed boolean guards must be false or missing.
	Unclaimed []string
	// ResendCount, when set, must equal the stored resend_count (missing counts as 0).
	ResendCount *int
}
