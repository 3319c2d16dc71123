package sqlstore

import "github.com/goliatone/go-fulfillment/core"

var _ core.StoreFactory = (*RepositoryFactory)(nil)
