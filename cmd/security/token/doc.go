// Package token holds the hashing and minting primitives for bearer session tokens.
//
// Hash output is always a 64-char lowercase hex string:
//   - SHA-256(token) when no key is configured,
//   - HMAC-SHA256(token, key) when STARTD_TOKEN_HMAC_KEY is set.
//
// Only hashes are stored or logged. Raw tokens live in the client's cookie jar.
package token
