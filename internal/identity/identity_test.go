package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, header, payload map[string]interface{}, secret string) string {
	t.Helper()
	h, err := json.Marshal(header)
	require.NoError(t, err)
	p, err := json.Marshal(payload)
	require.NoError(t, err)
	signingInput := base64.RawURLEncoding.EncodeToString(h) + "." + base64.RawURLEncoding.EncodeToString(p)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	sig := mac.Sum(nil)
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestLegacyIssuer_GenerateThenValidateRoundTrips(t *testing.T) {
	issuer := NewLegacyIssuer("shh", "HS256", time.Hour)
	token, err := issuer.Generate("u1", "d1", "s1", "dev")
	require.NoError(t, err)

	claims, err := issuer.Validate(token, "dev")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "d1", claims.DeviceID)
}

func TestLegacyIssuer_Validate_RejectsWrongSecret(t *testing.T) {
	issuer := NewLegacyIssuer("shh", "HS256", time.Hour)
	token, _ := issuer.Generate("u1", "d1", "s1", "dev")

	other := NewLegacyIssuer("different", "HS256", time.Hour)
	_, err := other.Validate(token, "dev")
	assert.ErrorIs(t, err, ErrTokenBadSignature)
}

func TestLegacyIssuer_Validate_RejectsExpiredToken(t *testing.T) {
	issuer := NewLegacyIssuer("shh", "HS256", -time.Hour)
	token, _ := issuer.Generate("u1", "d1", "s1", "dev")

	_, err := issuer.Validate(token, "dev")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestLegacyIssuer_Validate_RejectsEnvMismatch(t *testing.T) {
	issuer := NewLegacyIssuer("shh", "HS256", time.Hour)
	token, _ := issuer.Generate("u1", "d1", "s1", "dev")

	_, err := issuer.Validate(token, "prod")
	assert.ErrorIs(t, err, ErrEnvMismatch)
}

func TestLegacyIssuer_Validate_RejectsMalformedToken(t *testing.T) {
	issuer := NewLegacyIssuer("shh", "HS256", time.Hour)
	_, err := issuer.Validate("not-a-jwt", "dev")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func validSSOPayload(exp int64) map[string]interface{} {
	return map[string]interface{}{
		"obegee_user_id":      "u1",
		"myndlens_tenant_id":  "t1",
		"subscription_status": "ACTIVE",
		"iss":                 ssoIssuer,
		"aud":                 ssoAudience,
		"iat":                 time.Now().Unix(),
		"exp":                 exp,
	}
}

func TestSSOValidator_HS256_AcceptsValidToken(t *testing.T) {
	v := NewSSOValidator("HS256", "ssosecret", "", "dev")
	token := signHS256(t, map[string]interface{}{"alg": "HS256", "typ": "JWT"}, validSSOPayload(time.Now().Add(time.Hour).Unix()), "ssosecret")

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "t1", claims.TenantID)
}

func TestSSOValidator_HS256_RejectsBadSignature(t *testing.T) {
	v := NewSSOValidator("HS256", "ssosecret", "", "dev")
	token := signHS256(t, map[string]interface{}{"alg": "HS256", "typ": "JWT"}, validSSOPayload(time.Now().Add(time.Hour).Unix()), "wrong-secret")

	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrTokenBadSignature)
}

func TestSSOValidator_HS256_RejectsExpiredToken(t *testing.T) {
	v := NewSSOValidator("HS256", "ssosecret", "", "dev")
	token := signHS256(t, map[string]interface{}{"alg": "HS256", "typ": "JWT"}, validSSOPayload(time.Now().Add(-time.Hour).Unix()), "ssosecret")

	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSSOValidator_HS256_RejectsMissingClaim(t *testing.T) {
	v := NewSSOValidator("HS256", "ssosecret", "", "dev")
	payload := validSSOPayload(time.Now().Add(time.Hour).Unix())
	delete(payload, "subscription_status")
	token := signHS256(t, map[string]interface{}{"alg": "HS256", "typ": "JWT"}, payload, "ssosecret")

	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestSSOValidator_HS256_RejectsInvalidSubscriptionStatus(t *testing.T) {
	v := NewSSOValidator("HS256", "ssosecret", "", "dev")
	payload := validSSOPayload(time.Now().Add(time.Hour).Unix())
	payload["subscription_status"] = "NOT_A_STATUS"
	token := signHS256(t, map[string]interface{}{"alg": "HS256", "typ": "JWT"}, payload, "ssosecret")

	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSubStatus)
}

func TestSSOValidator_HS256_RejectsWrongIssuer(t *testing.T) {
	v := NewSSOValidator("HS256", "ssosecret", "", "dev")
	payload := validSSOPayload(time.Now().Add(time.Hour).Unix())
	payload["iss"] = "someone-else"
	token := signHS256(t, map[string]interface{}{"alg": "HS256", "typ": "JWT"}, payload, "ssosecret")

	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrBadIssuerOrAudience)
}

func TestNewSSOValidator_ForcesJWKSInProdRegardlessOfConfiguredMode(t *testing.T) {
	v := NewSSOValidator("HS256", "ssosecret", "", "prod")
	_, err := v.Validate(signHS256(t, map[string]interface{}{"alg": "HS256"}, validSSOPayload(time.Now().Add(time.Hour).Unix()), "ssosecret"))
	assert.ErrorIs(t, err, ErrJWKSNotConfigured, "prod must force JWKS mode even when HS256 was configured")
}

func TestSSOValidator_UnknownMode(t *testing.T) {
	v := &SSOValidator{mode: "BOGUS"}
	_, err := v.Validate("whatever")
	assert.ErrorIs(t, err, ErrUnknownValidationMode)
}
