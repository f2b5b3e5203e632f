package repo

import (
	hcmemdb "github.com/hashicorp/go-memdb"

	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/model"
)

const (
	userTable       = model.UserType
	ManagerIndex    = "manager"
	EmployeeIDIndex = "employee_id"
)

func UserSchema() *hcmemdb.DBSchema {
	return &hcmemdb.DBSchema{
		Tables: map[string]*hcmemdb.TableSchema{
			userTable: {
				Name: userTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK: {
						Name:   PK,
						Unique: true,
						Indexer: &hcmemdb.StringFieldIndex{
							Field:     "Username",
							Lowercase: true,
						},
					},
					ManagerIndex: {
						Name:         ManagerIndex,
						AllowMissing: true,
						Indexer: &hcmemdb.StringFieldIndex{
							Field:     "ManagerUsername",
							Lowercase: true,
						},
					},
					EmployeeIDIndex: {
						Name:         EmployeeIDIndex,
						AllowMissing: true,
						Indexer: &hcmemdb.StringFieldIndex{
							Field: "EmployeeID",
						},
					},
				},
			},
		},
	}
}

type UserRepository struct {
	db *hcmemdb.Txn // called "db" not to provoke transaction semantics
}

func NewUserRepository(tx *hcmemdb.Txn) *UserRepository {
	return &UserRepository{db: tx}
}

func (r *UserRepository) Put(user *model.User) error {
	return r.db.Insert(userTable, user)
}

func (r *UserRepository) GetByUsername(username string) (*model.User, error) {
	raw, err := r.db.First(userTable, PK, username)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, consts.ErrNotFound
	}
	return raw.(*model.User), nil
}

func (r *UserRepository) GetByEmployeeID(employeeID string) (*model.User, error) {
	raw, err := r.db.First(userTable, EmployeeIDIndex, employeeID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, consts.ErrNotFound
	}
	return raw.(*model.User), nil
}

func (r *UserRepository) List() ([]*model.User, error) {
	iter, err := r.db.Get(userTable, PK)
	if err != nil {
		return nil, err
	}
	list := []*model.User{}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		list = append(list, raw.(*model.User))
	}
	return list, nil
}

func (r *UserRepository) ListActive() ([]*model.User, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	list := []*model.User{}
	for _, u := range all {
		if u.Active {
			list = append(list, u)
		}
	}
	return list, nil
}

// DirectReports returns the users whose manager reference points at username.
func (r *UserRepository) DirectReports(username string) ([]*model.User, error) {
	iter, err := r.db.Get(userTable, ManagerIndex, username)
	if err != nil {
		return nil, err
	}
	list := []*model.User{}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		list = append(list, raw.(*model.User))
	}
	return list, nil
}

// IsLeader reports whether any other user's manager reference resolves to
// username.
func (r *UserRepository) IsLeader(username string) (bool, error) {
	iter, err := r.db.Get(userTable, ManagerIndex, username)
	if err != nil {
		return false, err
	}
	return iter.Next() != nil, nil
}

func (r *UserRepository) Wipe() error {
	_, err := r.db.DeleteAll(userTable, PK)
	return err
}
