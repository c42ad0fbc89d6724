// Package session implements cookie sessions for the server's single account.
//
// A session is created by a password login. The client keeps a random bearer
// secret in the "session" cookie; the server stores only its hash, which also
// serves as the session id shown by session listings and accepted by kill.
//
// Killing a session (logout included) marks the row logged out in one store
// transaction and then force-closes every WebSocket that authenticated with it.
package session
