package shadowmesh

// LoginResult is the outcome of a successful admin password check. When
// Requires2FA is set the session token is withheld until Verify2FA.
type LoginResult struct {
	Success      bool   `json:"success"`
	Requires2FA  bool   `json:"requires2FA"`
	Has2FASecret bool   `json:"has2FASecret"`
	Token        string `json:"token,omitempty"`
}

// TwoFactorSetup carries the freshly provisioned shared secret and the
// otpauth URI for the enrolling authenticator app. The secret is not yet
// enabled; possession must be proven with a valid code first.
type TwoFactorSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
}

// GenericResponse is the constant-shape reply used by enumeration-safe
// flows: identical for existing and non-existing identifiers.
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

const (
	genericResetMessage = "If an account exists for that address, reset instructions have been sent."
	genericOTPMessage   = "If an account exists for that address, a verification code has been sent."
)
