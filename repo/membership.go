package repo

import (
	"time"

	hcmemdb "github.com/hashicorp/go-memdb"

	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/model"
)

const (
	membershipTable = model.MembershipType
	UserIndex       = "user"
	TeamIndex       = "team"
)

func MembershipSchema() *hcmemdb.DBSchema {
	return &hcmemdb.DBSchema{
		Tables: map[string]*hcmemdb.TableSchema{
			membershipTable: {
				Name: membershipTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK: {
						Name:   PK,
						Unique: true,
						Indexer: &hcmemdb.CompoundIndex{
							Indexes: []hcmemdb.Indexer{
								&hcmemdb.StringFieldIndex{Field: "Username", Lowercase: true},
								&hcmemdb.IntFieldIndex{Field: "TeamID"},
							},
						},
					},
					UserIndex: {
						Name: UserIndex,
						Indexer: &hcmemdb.StringFieldIndex{
							Field:     "Username",
							Lowercase: true,
						},
					},
					TeamIndex: {
						Name: TeamIndex,
						Indexer: &hcmemdb.IntFieldIndex{
							Field: "TeamID",
						},
					},
				},
			},
		},
	}
}

type MembershipRepository struct {
	db *hcmemdb.Txn
}

func NewMembershipRepository(tx *hcmemdb.Txn) *MembershipRepository {
	return &MembershipRepository{db: tx}
}

func (r *MembershipRepository) Put(m *model.Membership) error {
	return r.db.Insert(membershipTable, m)
}

func (r *MembershipRepository) GetByUserAndTeam(username string, teamID int) (*model.Membership, error) {
	raw, err := r.db.First(membershipTable, PK, username, teamID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, consts.ErrNotFound
	}
	return raw.(*model.Membership), nil
}

func (r *MembershipRepository) ListByUser(username string) ([]*model.Membership, error) {
	return r.list(UserIndex, username)
}

func (r *MembershipRepository) ListByTeam(teamID int) ([]*model.Membership, error) {
	return r.list(TeamIndex, teamID)
}

func (r *MembershipRepository) ListActiveByUser(username string, now time.Time) ([]*model.Membership, error) {
	all, err := r.ListByUser(username)
	if err != nil {
		return nil, err
	}
	list := []*model.Membership{}
	for _, m := range all {
		if m.ActiveAt(now) {
			list = append(list, m)
		}
	}
	return list, nil
}

func (r *MembershipRepository) Delete(username string, teamID int) error {
	m, err := r.GetByUserAndTeam(username, teamID)
	if err != nil {
		return err
	}
	return r.db.Delete(membershipTable, m)
}

// DeleteByTeam removes every membership of one team and returns the affected
// usernames. Used by team deactivation which cascades membership deletion.
func (r *MembershipRepository) DeleteByTeam(teamID int) ([]string, error) {
	members, err := r.ListByTeam(teamID)
	if err != nil {
		return nil, err
	}
	usernames := make([]string, 0, len(members))
	for _, m := range members {
		usernames = append(usernames, m.Username)
		if err := r.db.Delete(membershipTable, m); err != nil {
			return nil, err
		}
	}
	return usernames, nil
}

func (r *MembershipRepository) Wipe() error {
	_, err := r.db.DeleteAll(membershipTable, PK)
	return err
}

func (r *MembershipRepository) list(index string, args ...interface{}) ([]*model.Membership, error) {
	iter, err := r.db.Get(membershipTable, index, args...)
	if err != nil {
		return nil, err
	}
	list := []*model.Membership{}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		list = append(list, raw.(*model.Membership))
	}
	return list, nil
}
