// Package authapi exposes the session service over HTTP with gin.
//
// Routes live under /v1/auth (public and bearer-protected) and /v1/admin
// (admin token or admin-role bearer). Errors use a single JSON envelope:
//
//	{"error": {"code": "...", "message": "..."}}
//
// Unknown email and wrong password at signin both map to 401
// invalid_credentials so responses do not reveal whether an account exists.
package authapi
