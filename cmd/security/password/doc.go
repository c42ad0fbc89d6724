// Package password hashes and verifies the server account password.
//
// Hashes use Argon2id in the PHC string form
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>, which is what the
// account record stores under private.password.
//
// Stored hashes are treated as untrusted input: Verify rejects strings whose
// cost parameters are far above the configured ones.
package password
