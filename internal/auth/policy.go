// Package auth resolves operator capabilities from the user's role. The
// role column is the single source of truth; no identity string comparison.
package auth

import "github.com/wnt/btcwatch/internal/models"

// CanManageWallets reports whether the user may create wallets and trigger
// imports.
func CanManageWallets(u models.User) bool {
	return u.Role == models.RoleAdmin
}

// CanViewWallets reports whether the user may read wallet and job data.
func CanViewWallets(u models.User) bool {
	return u.Role == models.RoleAdmin || u.Role == models.RoleViewer
}
