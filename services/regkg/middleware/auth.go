// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// principalKey is the context key for the matched token's index.
const principalKey = "regkg_principal"

// TokenAuth creates a Gin middleware that requires a bearer token.
//
// # Description
//
// Extracts the token from "Authorization: Bearer <token>" and compares
// it in constant time against each configured token. With no tokens
// configured every request passes, so a local instance needs no setup.
// The matched token's position is stored for handlers as "token-<n>".
//
// # Inputs
//
//   - tokens: Accepted API tokens. Empty strings are ignored.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func TokenAuth(tokens []string) gin.HandlerFunc {
	var digests [][sha256.Size]byte
	for _, t := range tokens {
		if t != "" {
			digests = append(digests, sha256.Sum256([]byte(t)))
		}
	}
	return func(c *gin.Context) {
		if len(digests) == 0 {
			c.Next()
			return
		}
		token := extractBearerToken(c)
		if token == "" {
			c.Header("WWW-Authenticate", `Bearer realm="regkg"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}
		got := sha256.Sum256([]byte(token))
		match := -1
		for i := range digests {
			if subtle.ConstantTimeCompare(got[:], digests[i][:]) == 1 {
				match = i
			}
		}
		if match < 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "UNAUTHORIZED"})
			return
		}
		c.Set(principalKey, "token-"+strconv.Itoa(match))
		c.Next()
	}
}

// Principal returns the identity TokenAuth attached to the request, or
// "" when authentication is disabled.
func Principal(c *gin.Context) string {
	return c.GetString(principalKey)
}

// extractBearerToken parses "Authorization: Bearer <token>". The scheme
// is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
