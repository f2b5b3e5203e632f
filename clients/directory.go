package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/flant/compliance-sync/consts"
	"github.com/flant/compliance-sync/model"
)

// Directory is the personnel directory collaborator. It is the ground truth
// for user records.
type Directory interface {
	FetchAllUsers(ctx context.Context) ([]model.User, error)
	FetchUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// HTTPDirectory reads the directory's paginated REST export.
type HTTPDirectory struct {
	Client   *http.Client
	BaseURL  string
	PageSize int
	MaxUsers int // hard cap mirroring the server-side query limit
}

func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		Client:   cleanhttp.DefaultPooledClient(),
		BaseURL:  baseURL,
		PageSize: 500,
		MaxUsers: 100000,
	}
}

func (c *HTTPDirectory) FetchAllUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	for offset := 0; offset < c.MaxUsers; offset += c.PageSize {
		url := fmt.Sprintf("%s/users?offset=%d&limit=%d", c.BaseURL, offset, c.PageSize)
		var page []model.User
		if err := c.getJSON(ctx, url, &page); err != nil {
			return nil, fmt.Errorf("fetching users page at offset %d: %w", offset, err)
		}
		users = append(users, page...)
		if len(page) < c.PageSize {
			return users, nil
		}
	}
	return users, nil
}

func (c *HTTPDirectory) FetchUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := c.getJSON(ctx, c.BaseURL+"/users/"+username, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPDirectory) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return consts.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wrong response: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
