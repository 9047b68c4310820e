// Package password is the credential verifier: one-way salted hashing of user
// secrets and constant-time verification against a stored hash.
//
// New hashes are Argon2id in PHC form:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Stored bcrypt hashes ($2a$, $2b$, $2y$) still verify so accounts imported from
// older systems can sign in; they are never produced for new accounts.
//
// Hash strings are treated as untrusted input during verification, and Argon2id
// parameters far above the configured cost are refused.
package password
