package domain

import "time"

// State is a registration step. Values are the wire names clients poll for.
type State string

const (
	StateFirstStep      State = "firstStep"
	StateFirstStepEmail State = "firstStepEmail"
	StateCreateIdentity State = "createIdentity"
	StateVerify         State = "verify"
	StateVerifyEmail    State = "verifyEmail"
	StateSetUsername    State = "setUsername"
	StateToBlockChain   State = "toBlockChain"
	StateRegistered     State = "registered"
)

// Rank orders states; a record's rank never decreases.
func (s State) Rank() int {
	switch s {
	case StateFirstStep, StateFirstStepEmail, StateCreateIdentity:
		return 0
	case StateVerify, StateVerifyEmail:
		return 1
	case StateSetUsername:
		return 2
	case StateToBlockChain:
		return 3
	case StateRegistered:
		return 4
	default:
		return -1
	}
}

// Channel is the contact kind a registration was started with.
type Channel string

const (
	ChannelPhone    Channel = "phone"
	ChannelEmail    Channel = "email"
	ChannelIdentity Channel = "identity"
)

// InitialState is the state reported for a contact with no record yet.
func (c Channel) InitialState() State {
	switch c {
	case ChannelEmail:
		return StateFirstStepEmail
	case ChannelIdentity:
		return StateCreateIdentity
	default:
		return StateFirstStep
	}
}

// VerifyState is the verification state of the channel; identity has none.
func (c Channel) VerifyState() State {
	if c == ChannelEmail {
		return StateVerifyEmail
	}
	return StateVerify
}

// Registration is one user's progress towards an on-chain account.
// PK: contact_key. GSIs: user_id-index, contact_plain-index.
type Registration struct {
	ContactKey     string  `json:"-" dynamodbav:"contact_key"`
	RegistrationID string  `json:"id" dynamodbav:"registration_id"`
	Channel        Channel `json:"channel" dynamodbav:"channel"`
	ContactPlain   string  `json:"contact,omitempty" dynamodbav:"contact_plain,omitempty"`
	ContactHash    string  `json:"-" dynamodbav:"contact_hash"`
	Provider       string  `json:"provider,omitempty" dynamodbav:"provider,omitempty"`
	State          State   `json:"state" dynamodbav:"state"`
	Verified       bool    `json:"verified" dynamodbav:"verified"`

	VerificationCode string    `json:"-" dynamodbav:"verification_code,omitempty"`
	CodeIssuedAt     time.Time `json:"-" dynamodbav:"code_issued_at"`
	ResendCount      int       `json:"-" dynamodbav:"resend_count"`

	Username      string   `json:"username,omitempty" dynamodbav:"username,omitempty"`
	UserID        string   `json:"user_id,omitempty" dynamodbav:"user_id,omitempty"`
	ReferralID    string   `json:"referral_id,omitempty" dynamodbav:"referral_id,omitempty"`
	Referrals     []string `json:"referrals,omitempty" dynamodbav:"referrals,stringset,omitempty"`
	TransactionID string   `json:"transaction_id,omitempty" dynamodbav:"transaction_id,omitempty"`
	DeviceType    string   `json:"device_type,omitempty" dynamodbav:"device_type,omitempty"`

	IsRegistered     bool `json:"is_registered" dynamodbav:"is_registered"`
	IsTestingSystem  bool `json:"is_testing_system" dynamodbav:"is_testing_system"`
	ReferralCredited bool `json:"-" dynamodbav:"referral_credited"`

	OnboardingCommunityRewarded bool     `json:"-" dynamodbav:"onboarding_community_rewarded"`
	OnboardingCommunities       []string `json:"-" dynamodbav:"onboarding_communities,stringset,omitempty"`
	OnboardingDeviceSwitched    bool     `json:"-" dynamodbav:"onboarding_device_switched"`
	OnboardingSharedLink        bool     `json:"-" dynamodbav:"onboarding_shared_link"`

	CreatedAt    time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time  `json:"updated" dynamodbav:"updated_at"`
	RegisteredAt *time.Time `json:"registered_at,omitempty" dynamodbav:"registered_at,omitempty"`
}

// ChainAccount is an account as the gateway reports it.
type ChainAccount struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	OwnerKey string `json:"ownerKey"`
}

// ClientInfo is the auxiliary request context sent by apps.
type ClientInfo struct {
	DeviceType string
	Platform   string
}

// Device types accepted in ClientInfo.DeviceType and as captcha client types.
const (
	DeviceWeb     = "web"
	DeviceAndroid = "android"
	DeviceIOS     = "ios"
)
