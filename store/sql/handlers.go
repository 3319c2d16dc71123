package sqlstore

import (
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type identifiedRecord[R any] interface {
	*R
	recordID() *string
}

// recordHandlers builds the repository handlers shared by every table keyed
// on a text uuid "id" column.
func recordHandlers[T identifiedRecord[R], R any]() repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: func() T {
			return T(new(R))
		},
		GetID: func(record T) uuid.UUID {
			id := record.recordID()
			if id == nil {
				return uuid.Nil
			}
			return parseUUID(*id)
		},
		SetID: func(record T, id uuid.UUID) {
			if target := record.recordID(); target != nil {
				*target = id.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			id := record.recordID()
			if id == nil {
				return ""
			}
			return strings.TrimSpace(*id)
		},
	}
}

func newRepository[T identifiedRecord[R], R any](db *bun.DB, name string) (repository.Repository[T], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[T](db, recordHandlers[T, R]())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
		}
	}
	return repo, nil
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
