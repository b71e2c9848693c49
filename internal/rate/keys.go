package rate

const (
	loginUserPrefix    = "al:"
	loginIPPrefix      = "ali:"
	refreshPrefix      = "ar:"
	emailRequestPrefix = "aer:"
	mfaPrefix          = "amfa:"
)

func loginUserKey(email string) string {
	return loginUserPrefix + email
}

func loginIPKey(ip string) string {
	return loginIPPrefix + ip
}

func refreshKey(sessionID string) string {
	return refreshPrefix + sessionID
}

func emailRequestKey(kind, email string) string {
	return emailRequestPrefix + kind + ":" + email
}

func mfaKey(identityID string) string {
	return mfaPrefix + identityID
}
