// Package auth provides authentication for parley.
//
// # Accounts
//
// Users register with an email and password. Passwords are stored as bcrypt
// hashes (HashPassword, CheckPassword); a mismatch is ErrInvalidCredentials.
//
// # JWT Tokens
//
// A successful login returns an HS256 JWT whose "sub" claim is the user ID:
//
//	verifier, err := auth.NewJWTVerifier(secret) // secret >= MinSecretLength bytes
//	token, err := verifier.Generate(userID, 24*time.Hour)
//	userID, err := verifier.Verify(token)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware verifies the bearer token, loads the user and stores an
// AuthContext (user ID, email, name) in the request context. Failures answer
// 401 {"error":"Unauthorized"}. OptionalAuthMiddleware lets anonymous
// requests through so a handler can decide itself.
//
// # Sessions
//
// Session is the client-side counterpart: it remembers the signed-in user's
// token and email, reports the email as the pub/sub routing key and notifies
// listeners when the identity changes.
package auth
