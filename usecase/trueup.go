package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	hcmemdb "github.com/hashicorp/go-memdb"
	"github.com/hashicorp/go-multierror"

	"github.com/flant/compliance-sync/clients"
	"github.com/flant/compliance-sync/model"
	"github.com/flant/compliance-sync/repo"
)

// TrueUpReport summarizes one reconciliation run.
type TrueUpReport struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
}

// TrueUp is the drift backstop: it re-derives desired state for every active
// user and corrects the vendor. It catches missed events, pushes that failed
// in the event path, and manual edits made directly in the vendor.
type TrueUp struct {
	store  *hcmemdb.MemDB
	vendor clients.Vendor
	logger hclog.Logger
}

func NewTrueUp(store *hcmemdb.MemDB, vendor clients.Vendor, parentLogger hclog.Logger) *TrueUp {
	return &TrueUp{
		store:  store,
		vendor: vendor,
		logger: parentLogger.Named("trueup"),
	}
}

// RunDailyTrueUp fetches the vendor snapshot once, then walks all active
// local users. A single bad record never aborts the run: per-user failures
// are logged, counted and collected.
func (t *TrueUp) RunDailyTrueUp(ctx context.Context) (*TrueUpReport, error) {
	snapshot, err := t.vendor.GetAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching vendor snapshot: %w", err)
	}
	index := make(map[string]clients.VendorUser, len(snapshot))
	for _, vu := range snapshot {
		index[vu.Username] = vu
	}

	txn := t.store.Txn(false)
	defer txn.Abort()
	users, err := repo.NewUserRepository(txn).ListActive()
	if err != nil {
		return nil, err
	}

	calc := NewCalculator(txn)
	report := &TrueUpReport{}
	var errs *multierror.Error
	for _, user := range users {
		if err := t.reconcileUser(ctx, calc, index, user.Username, report); err != nil {
			report.Failed++
			t.logger.Error(fmt.Sprintf("reconciling %s: %s", user.Username, err.Error()))
			errs = multierror.Append(errs, err)
		}
	}
	t.logger.Info("true-up finished", "created", report.Created, "updated", report.Updated,
		"unchanged", report.Unchanged, "failed", report.Failed)
	return report, errs.ErrorOrNil()
}

func (t *TrueUp) reconcileUser(ctx context.Context, calc *Calculator, index map[string]clients.VendorUser, username string, report *TrueUpReport) error {
	dc, err := calc.Calculate(username)
	if err != nil {
		return fmt.Errorf("calculate %s: %w", username, err)
	}

	existing, found := index[username]
	if !found {
		if err := t.vendor.CreateUser(ctx, dc); err != nil {
			return err
		}
		report.Created++
		return nil
	}
	if !drifted(existing, dc) {
		report.Unchanged++
		return nil
	}
	if err := t.vendor.UpdateUser(ctx, dc); err != nil {
		return err
	}
	report.Updated++
	return nil
}

// drifted compares the three reconciled attributes: active flag, visibility
// profile and the group set. Vendor group ordering is not trusted.
func drifted(existing clients.VendorUser, dc *model.DesiredConfiguration) bool {
	if existing.Active != dc.Active || existing.VisibilityProfile != dc.VisibilityProfile {
		return true
	}
	if len(existing.Groups) != len(dc.Groups) {
		return true
	}
	vendorGroups := append([]string{}, existing.Groups...)
	sort.Strings(vendorGroups)
	for i := range vendorGroups {
		if vendorGroups[i] != dc.Groups[i] {
			return true
		}
	}
	return false
}
