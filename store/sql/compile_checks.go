package sqlstore

import "github.com/drawbook/go-datastore/core"

var (
	_ core.UserStore  = (*UserStore)(nil)
	_ core.TokenStore = (*TokenStore)(nil)
)
