package fixtures

import (
	"github.com/flant/compliance-sync/model"
)

const (
	Username1 = "p100001" // home office
	Username2 = "p100002" // branch
	Username3 = "p100003" // mixed placement
	Username4 = "p100004" // branch leader
	Username5 = "p100005" // home office leader
	Username6 = "p100006" // multi-team
	Username7 = "p100007" // no placement markers
)

func Users() []model.User {
	return []model.User{
		{
			Username:        Username1,
			EmployeeID:      "e1001",
			FirstName:       "Katherine",
			LastName:        "Powell",
			Title:           "Senior Underwriter",
			Location:        "OU=Home Office,DC=corp",
			ManagerUsername: Username5,
			Country:         "US",
			Active:          true,
		},
		{
			Username:        Username2,
			EmployeeID:      "e1002",
			FirstName:       "Daniel",
			LastName:        "Reyes",
			Title:           "Account Specialist",
			Location:        "OU=Branch 114,DC=corp",
			ManagerUsername: Username4,
			Country:         "US",
			Active:          true,
		},
		{
			Username:        Username3,
			EmployeeID:      "e1003",
			FirstName:       "Megan",
			LastName:        "Cho",
			Title:           "Remote Support Analyst",
			Location:        "OU=Home Office,DC=corp",
			ManagerUsername: Username5,
			Country:         "CA",
			Active:          true,
		},
		{
			Username:        Username4,
			EmployeeID:      "e1004",
			FirstName:       "Robert",
			LastName:        "Ellis",
			Title:           "Branch Manager",
			Location:        "OU=Branch 114,DC=corp",
			ManagerUsername: Username5,
			Country:         "US",
			Active:          true,
		},
		{
			Username:        Username5,
			EmployeeID:      "e1005",
			FirstName:       "Angela",
			LastName:        "Morrison",
			Title:           "Regional Director",
			Location:        "OU=Home Office,DC=corp",
			ManagerUsername: "",
			Country:         "US",
			Active:          true,
		},
		{
			Username:        Username6,
			EmployeeID:      "e1006",
			FirstName:       "Priya",
			LastName:        "Natarajan",
			Title:           "Portfolio Analyst",
			Location:        "OU=Home Office,DC=corp",
			ManagerUsername: Username5,
			Country:         "US",
			Active:          true,
		},
		{
			Username:        Username7,
			EmployeeID:      "e1007",
			FirstName:       "Tomas",
			LastName:        "Lindqvist",
			Title:           "Contractor",
			Location:        "OU=External,DC=corp",
			ManagerUsername: "",
			Country:         "US",
			Active:          true,
		},
	}
}
