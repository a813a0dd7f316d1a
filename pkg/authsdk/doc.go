/*
Package authsdk is a Go client for the gatekeeper authentication service and
holds the JSON types shared with its HTTP handlers.

# Client vs Session

Client covers the unauthenticated endpoints. A successful login or
two-factor verification returns a Session, which carries the token pair and
rotates the refresh token when the access token is about to expire:

	client := authsdk.NewClient("https://auth.example.com")

	session, err := client.Login(ctx, "alice@example.com", secret)
	var tfa *authsdk.TwoFactorRequiredError
	if errors.As(err, &tfa) {
		session, err = client.VerifyTwoFactor(ctx, tfa.PreAuthToken, code)
	}

	info, err := session.Whoami(ctx)
	err = session.Logout(ctx)

# Errors

Non-2xx responses are returned as *APIError. Code is the external error kind
(invalid_credential, account_locked, token_reuse_detected, ...) and
RetryAfter is populated from the Retry-After header on 423 responses.

Sessions are safe for concurrent use.
*/
package authsdk
