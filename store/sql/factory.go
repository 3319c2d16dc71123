package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-fulfillment/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	unitOfWork         *UnitOfWork
	ledgerStore        *LedgerStore
	catalogStore       *CatalogStore
	notificationOutbox *NotificationOutboxStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreFactory, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.unitOfWork != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) UnitOfWork() core.UnitOfWork {
	if f == nil || f.unitOfWork == nil {
		return nil
	}
	return f.unitOfWork
}

func (f *RepositoryFactory) LedgerStore() *LedgerStore {
	if f == nil {
		return nil
	}
	return f.ledgerStore
}

func (f *RepositoryFactory) CatalogStore() *CatalogStore {
	if f == nil {
		return nil
	}
	return f.catalogStore
}

func (f *RepositoryFactory) NotificationOutboxStore() *NotificationOutboxStore {
	if f == nil {
		return nil
	}
	return f.notificationOutbox
}

func (f *RepositoryFactory) initStores() error {
	unitOfWork, err := NewUnitOfWork(f.db)
	if err != nil {
		return err
	}
	ledgerStore, err := NewLedgerStore(f.db)
	if err != nil {
		return err
	}
	catalogStore, err := NewCatalogStore(f.db)
	if err != nil {
		return err
	}
	notificationOutbox, err := NewNotificationOutboxStore(f.db)
	if err != nil {
		return err
	}
	f.unitOfWork = unitOfWork
	f.ledgerStore = ledgerStore
	f.catalogStore = catalogStore
	f.notificationOutbox = notificationOutbox
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
