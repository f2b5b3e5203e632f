package repo

import (
	hcmemdb "github.com/hashicorp/go-memdb"

	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/model"
)

const teamTable = model.TeamType

func TeamSchema() *hcmemdb.DBSchema {
	return &hcmemdb.DBSchema{
		Tables: map[string]*hcmemdb.TableSchema{
			teamTable: {
				Name: teamTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK: {
						Name:   PK,
						Unique: true,
						Indexer: &hcmemdb.IntFieldIndex{
							Field: "ID",
						},
					},
				},
			},
		},
	}
}

type TeamRepository struct {
	db *hcmemdb.Txn
}

func NewTeamRepository(tx *hcmemdb.Txn) *TeamRepository {
	return &TeamRepository{db: tx}
}

func (r *TeamRepository) Put(team *model.Team) error {
	return r.db.Insert(teamTable, team)
}

func (r *TeamRepository) GetByID(id int) (*model.Team, error) {
	raw, err := r.db.First(teamTable, PK, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, consts.ErrNotFound
	}
	return raw.(*model.Team), nil
}

func (r *TeamRepository) List() ([]*model.Team, error) {
	iter, err := r.db.Get(teamTable, PK)
	if err != nil {
		return nil, err
	}
	list := []*model.Team{}
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		list = append(list, raw.(*model.Team))
	}
	return list, nil
}

func (r *TeamRepository) Wipe() error {
	_, err := r.db.DeleteAll(teamTable, PK)
	return err
}
