package repo

import (
	"fmt"

	hcmemdb "github.com/hashicorp/go-memdb"
)

const PK = "id"

// NewStore builds the mirror store holding User, Team and Membership tables.
// One write txn per change event is the atomic state-mutation unit; memdb
// serializes writers, which satisfies the per-row locking requirement.
func NewStore() (*hcmemdb.MemDB, error) {
	schema, err := mergeSchemas(UserSchema(), TeamSchema(), MembershipSchema())
	if err != nil {
		return nil, err
	}
	return hcmemdb.NewMemDB(schema)
}

func mergeSchemas(schemas ...*hcmemdb.DBSchema) (*hcmemdb.DBSchema, error) {
	merged := &hcmemdb.DBSchema{Tables: map[string]*hcmemdb.TableSchema{}}
	for _, s := range schemas {
		for name, table := range s.Tables {
			if _, found := merged.Tables[name]; found {
				return nil, fmt.Errorf("table %q is defined twice", name)
			}
			merged.Tables[name] = table
		}
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// IsEmpty reports whether the store was never seeded: the daemon refuses to
// process events against an empty mirror.
func IsEmpty(txn *hcmemdb.Txn) (bool, error) {
	iter, err := txn.Get(userTable, PK)
	if err != nil {
		return false, err
	}
	return iter.Next() == nil, nil
}
