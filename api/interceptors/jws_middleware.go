package interceptors

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"time"

	"github.com/emberwallet/go-vault-server/global"
	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v3"
)

const (
	tokenExpiryHours = 30 * 24 // 30 days
)

// JWSMiddleware validates the session token issued after a successful unlock
// and stores the subject account id in the context for the handlers behind it.
func JWSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is missing"})
			return
		}

		// Parse JWS message
		object, err := jose.ParseSigned(auth)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid JWS message"})
			return
		}

		// Verify the signature
		_, err = object.Verify(global.ServerPublicKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Failed to verify JWS message"})
			return
		}

		payload := object.UnsafePayloadWithoutVerification()
		var plMap map[string]interface{}
		uErr := json.Unmarshal(payload, &plMap)
		if uErr != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload"})
			return
		}
		if exp, ok := plMap["exp"]; ok {
			expFloat, ok := exp.(float64)
			if !ok {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload"})
				return
			}
			if int64(expFloat) < time.Now().Unix() {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "JWS message expired"})
				return
			}
		} else {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload (exp missing)"})
			return
		}
		if sub, ok := plMap["sub"]; ok {
			subject, ok := sub.(string)
			if !ok || subject == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload (sub invalid)"})
				return
			}
			c.Set("subjectAccount", subject)
		} else {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload (sub missing)"})
			return
		}
		if kind, ok := plMap["kind"]; ok {
			if kindStr, ok := kind.(string); ok {
				c.Set("subjectKind", kindStr)
			}
		}
		c.Next()
	}
}

// GenerateJWSToken signs a session token for the given account after a
// completed unlock. challenge ties the token to the unlock attempt.
func GenerateJWSToken(serverPrivateKey ed25519.PrivateKey, accountID string, kind string, challenge string) (string, error) {
	pl := map[string]interface{}{
		"iss":  global.Conf.Wallet.ServerDomain,
		"sub":  accountID,
		"kind": kind,
		"iat":  time.Now().Unix(),
		"jti":  challenge,
		"exp":  time.Now().Add(time.Hour * tokenExpiryHours).Unix(),
		"aud":  "emberwallet",
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: serverPrivateKey}, nil)
	if err != nil {
		return "", err
	}

	plBytes, plErr := json.Marshal(pl)
	if plErr != nil {
		return "", plErr
	}
	object, err := signer.Sign(plBytes)
	if err != nil {
		return "", err
	}

	return object.CompactSerialize()
}
