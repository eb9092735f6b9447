// Package auth authenticates callers of the ledger API.
//
// A caller presents an HS256-signed JWT whose subject is its principal. The
// token carries no roles: every authorisation decision is made by the
// ledger itself (a device registers as itself, only an owner may change
// state). Tokens are minted out of band by the hosting environment, or for
// development with `devledger token`.
package auth
