package domain

// ProviderType identifies an external unified-communications provider
type ProviderType string

const (
	// ProviderGoTo is the GoTo Connect platform (LogMeIn identity)
	ProviderGoTo ProviderType = "goto"
)

// Default GoTo endpoints. Deployments may override all of them via configuration.
const (
	GoToAuthURL    = "https://authentication.logmeininc.com/oauth/authorize"
	GoToTokenURL   = "https://authentication.logmeininc.com/oauth/token"
	GoToRevokeURL  = "https://authentication.logmeininc.com/oauth/revoke"
	GoToAPIBaseURL = "https://api.goto.com"

	// GoToAdminAPIBaseURL serves the legacy admin profile API.
	GoToAdminAPIBaseURL = "https://api.getgo.com"
)

// DefaultTokenType is used when the provider omits token_type
const DefaultTokenType = "Bearer"

// GoToScopes returns the static permission set requested on every authorization.
func GoToScopes() []string {
	return []string{
		"openid",
		"profile",
		"identify:scim.me",
		"identify:scim.org",
		"voice-admin.v1.write",
		"voicemail.v1.voicemails.write",
		"call-history.v1.notifications.manage",
		"call-control.v1.calls.control",
		"voice-admin.v1.read",
		"fax.v1.notifications.manage",
		"call-events.v1.events.read",
		"messaging.v1.read",
		"webrtc.v1.write",
		"voicemail.v1.voicemails.read",
		"contacts.v1.write",
		"presence.v1.notifications.manage",
		"messaging.v1.write",
		"recording.v1.notifications.manage",
		"calls.v2.initiate",
		"voicemail.v1.notifications.manage",
		"messaging.v1.send",
		"fax.v1.read",
		"messaging.v1.notifications.manage",
		"presence.v1.write",
		"webrtc.v1.read",
		"contacts.v1.read",
		"fax.v1.write",
		"recording.v1.read",
		"call-events.v1.notifications.manage",
		"presence.v1.read",
		"cr.v1.read",
		"users.v1.lines.read",
		"users.v1.read",
	}
}
