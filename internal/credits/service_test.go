package credits

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

type driverState struct {
	balance   int
	expiresAt *time.Time
}

type fakeRepo struct {
	drivers  map[uuid.UUID]*driverState
	ledger   []*models.CreditLedgerEntry
	requests map[uuid.UUID]*models.CreditPurchaseRequest

	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		drivers:  make(map[uuid.UUID]*driverState),
		requests: make(map[uuid.UUID]*models.CreditPurchaseRequest),
	}
}

func (f *fakeRepo) Querier() Querier { return nil }

func (f *fakeRepo) AppendEntry(_ context.Context, _ Querier, entry *models.CreditLedgerEntry) error {
	d, ok := f.drivers[entry.DriverID]
	if !ok {
		d = &driverState{}
		f.drivers[entry.DriverID] = d
	}
	if d.balance+entry.CreditsDelta < 0 {
		return ErrInsufficientCredits
	}
	d.balance += entry.CreditsDelta
	entry.CreatedAt = time.Now()
	f.ledger = append(f.ledger, entry)
	return nil
}

func (f *fakeRepo) LedgerSum(_ context.Context, driverID uuid.UUID) (int, error) {
	sum := 0
	for _, e := range f.ledger {
		if e.DriverID == driverID {
			sum += e.CreditsDelta
		}
	}
	return sum, nil
}

func (f *fakeRepo) ListEntries(_ context.Context, driverID uuid.UUID, limit, offset int) ([]*models.CreditLedgerEntry, error) {
	var out []*models.CreditLedgerEntry
	for i := len(f.ledger) - 1; i >= 0; i-- {
		if f.ledger[i].DriverID == driverID {
			out = append(out, f.ledger[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) CreatePurchaseRequest(_ context.Context, req *models.CreditPurchaseRequest) error {
	if f.createErr != nil {
		return f.createErr
	}
	req.CreatedAt = time.Now()
	f.requests[req.ID] = req
	return nil
}

func (f *fakeRepo) GetPurchaseRequest(_ context.Context, id uuid.UUID) (*models.CreditPurchaseRequest, error) {
	return f.requests[id], nil
}

func (f *fakeRepo) ListPendingRequests(_ context.Context) ([]*models.CreditPurchaseRequest, error) {
	var out []*models.CreditPurchaseRequest
	for _, r := range f.requests {
		if r.Status == models.PurchasePending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) Approve(ctx context.Context, requestID, adminID uuid.UUID, expiresAt time.Time) (*models.CreditPurchaseRequest, error) {
	req, ok := f.requests[requestID]
	if !ok || req.Status != models.PurchasePending {
		return nil, ErrRequestNotPending
	}

	now := time.Now()
	req.Status = models.PurchaseApproved
	req.ReviewedBy = &adminID
	req.ReviewedAt = &now

	entry := &models.CreditLedgerEntry{
		ID:           uuid.New(),
		DriverID:     req.DriverID,
		CreditsDelta: req.Credits,
		Reason:       models.CreditPurchase,
		ActorID:      &adminID,
	}
	if err := f.AppendEntry(ctx, nil, entry); err != nil {
		return nil, err
	}
	f.drivers[req.DriverID].expiresAt = &expiresAt
	return req, nil
}

func (f *fakeRepo) Reject(_ context.Context, requestID, adminID uuid.UUID, note string) (*models.CreditPurchaseRequest, error) {
	req, ok := f.requests[requestID]
	if !ok || req.Status != models.PurchasePending {
		return nil, ErrRequestNotPending
	}

	now := time.Now()
	req.Status = models.PurchaseRejected
	req.ReviewedBy = &adminID
	req.ReviewedAt = &now
	if note != "" {
		req.Note = &note
	}
	return req, nil
}

func (f *fakeRepo) ExpireBalances(ctx context.Context, now time.Time) (int, error) {
	swept := 0
	for id, d := range f.drivers {
		if d.balance <= 0 || d.expiresAt == nil || d.expiresAt.After(now) {
			continue
		}
		entry := &models.CreditLedgerEntry{
			ID:           uuid.New(),
			DriverID:     id,
			CreditsDelta: -d.balance,
			Reason:       models.CreditExpiry,
		}
		if err := f.AppendEntry(ctx, nil, entry); err != nil {
			return swept, err
		}
		d.expiresAt = nil
		swept++
	}
	return swept, nil
}

func (f *fakeRepo) ListDrift(_ context.Context) ([]*Drift, error) {
	var out []*Drift
	for id, d := range f.drivers {
		sum, _ := f.LedgerSum(context.Background(), id)
		if sum != d.balance {
			out = append(out, &Drift{DriverID: id, CreditBalance: d.balance, LedgerSum: sum})
		}
	}
	return out, nil
}

func (f *fakeRepo) GetBalance(_ context.Context, driverID uuid.UUID) (*Balance, error) {
	d, ok := f.drivers[driverID]
	if !ok {
		return nil, nil
	}
	return &Balance{DriverID: driverID, CreditBalance: d.balance, ExpiresAt: d.expiresAt}, nil
}

type emitted struct {
	room string
	msg  *rooms.Message
}

type fakeEmitter struct {
	messages []emitted
}

func (f *fakeEmitter) EmitToRoom(room string, msg *rooms.Message) error {
	f.messages = append(f.messages, emitted{room: room, msg: msg})
	return nil
}

func (f *fakeEmitter) typesFor(room string) []string {
	var out []string
	for _, m := range f.messages {
		if m.room == room {
			out = append(out, m.msg.Type)
		}
	}
	return out
}

func newHarness() (*Service, *fakeRepo, *fakeEmitter) {
	repo := newFakeRepo()
	emitter := &fakeEmitter{}
	return NewService(repo, emitter), repo, emitter
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.ErrorCode)
}

func TestRequestPurchaseValidation(t *testing.T) {
	svc, _, _ := newHarness()
	driverID := uuid.New()

	cases := []struct {
		name    string
		credits int
		months  int
	}{
		{"zero credits", 0, 1},
		{"negative credits", -5, 1},
		{"too many credits", 20000, 1},
		{"zero months", 100, 0},
		{"too many months", 100, 24},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RequestPurchase(context.Background(), driverID, tc.credits, tc.months)
			assertErrorCode(t, err, common.CodeValidationFailed)
		})
	}
}

func TestRequestPurchaseNotifiesAdmins(t *testing.T) {
	svc, repo, emitter := newHarness()
	driverID := uuid.New()

	req, err := svc.RequestPurchase(context.Background(), driverID, 300, 1)
	require.NoError(t, err)

	assert.Equal(t, models.PurchasePending, req.Status)
	assert.Equal(t, 300, req.Credits)
	require.Contains(t, repo.requests, req.ID)
	assert.Equal(t, []string{"credits:purchase_requested"}, emitter.typesFor(rooms.AdminRoom))
}

func TestApproveGrantsCreditsAndExpiry(t *testing.T) {
	svc, repo, emitter := newHarness()
	driverID := uuid.New()
	adminID := uuid.New()

	req, err := svc.RequestPurchase(context.Background(), driverID, 500, 2)
	require.NoError(t, err)

	before := time.Now()
	approved, err := svc.Approve(context.Background(), adminID, req.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PurchaseApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, adminID, *approved.ReviewedBy)

	bal, err := svc.GetBalance(context.Background(), driverID)
	require.NoError(t, err)
	assert.Equal(t, 500, bal.CreditBalance)
	require.NotNil(t, bal.ExpiresAt)
	assert.WithinDuration(t, before.Add(2*monthDuration), *bal.ExpiresAt, 5*time.Second)

	sum, err := repo.LedgerSum(context.Background(), driverID)
	require.NoError(t, err)
	assert.Equal(t, 500, sum)

	require.Len(t, repo.ledger, 1)
	assert.Equal(t, models.CreditPurchase, repo.ledger[0].Reason)

	assert.Equal(t, []string{"credits:approved"}, emitter.typesFor(rooms.DriverRoom(driverID.String())))
}

func TestApproveAlreadyReviewed(t *testing.T) {
	svc, _, _ := newHarness()
	driverID := uuid.New()
	adminID := uuid.New()

	req, err := svc.RequestPurchase(context.Background(), driverID, 100, 1)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), adminID, req.ID)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), adminID, req.ID)
	assertErrorCode(t, err, common.CodeConflict)
}

func TestApproveMissingRequest(t *testing.T) {
	svc, _, _ := newHarness()

	_, err := svc.Approve(context.Background(), uuid.New(), uuid.New())
	assertErrorCode(t, err, common.CodeNotFound)
}

func TestRejectLeavesLedgerUntouched(t *testing.T) {
	svc, repo, emitter := newHarness()
	driverID := uuid.New()
	adminID := uuid.New()

	req, err := svc.RequestPurchase(context.Background(), driverID, 100, 1)
	require.NoError(t, err)

	rejected, err := svc.Reject(context.Background(), adminID, req.ID, "payment never arrived")
	require.NoError(t, err)

	assert.Equal(t, models.PurchaseRejected, rejected.Status)
	require.NotNil(t, rejected.Note)
	assert.Empty(t, repo.ledger)
	assert.Equal(t, []string{"credits:rejected"}, emitter.typesFor(rooms.DriverRoom(driverID.String())))

	_, err = svc.Reject(context.Background(), adminID, req.ID, "")
	assertErrorCode(t, err, common.CodeConflict)
}

func TestAdjustAppendsEntry(t *testing.T) {
	svc, repo, _ := newHarness()
	driverID := uuid.New()
	adminID := uuid.New()

	entry, err := svc.Adjust(context.Background(), adminID, driverID, 50)
	require.NoError(t, err)

	assert.Equal(t, models.CreditAdminAdjust, entry.Reason)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, adminID, *entry.ActorID)
	assert.Equal(t, 50, repo.drivers[driverID].balance)
}

func TestAdjustRejectsOverdraw(t *testing.T) {
	svc, _, _ := newHarness()
	adminID := uuid.New()
	driverID := uuid.New()

	_, err := svc.Adjust(context.Background(), adminID, driverID, 10)
	require.NoError(t, err)

	_, err = svc.Adjust(context.Background(), adminID, driverID, -25)
	assertErrorCode(t, err, common.CodeInsufficientBalance)

	_, err = svc.Adjust(context.Background(), adminID, driverID, 0)
	assertErrorCode(t, err, common.CodeValidationFailed)
}

func TestSweepExpiredZeroesBalances(t *testing.T) {
	svc, repo, _ := newHarness()
	adminID := uuid.New()

	expired := uuid.New()
	_, err := svc.Adjust(context.Background(), adminID, expired, 40)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	repo.drivers[expired].expiresAt = &past

	current := uuid.New()
	_, err = svc.Adjust(context.Background(), adminID, current, 60)
	require.NoError(t, err)
	future := time.Now().Add(time.Hour)
	repo.drivers[current].expiresAt = &future

	swept, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, 0, repo.drivers[expired].balance)
	assert.Nil(t, repo.drivers[expired].expiresAt)
	assert.Equal(t, 60, repo.drivers[current].balance)

	sum, err := repo.LedgerSum(context.Background(), expired)
	require.NoError(t, err)
	assert.Equal(t, 0, sum)

	last := repo.ledger[len(repo.ledger)-1]
	assert.Equal(t, models.CreditExpiry, last.Reason)
	assert.Equal(t, -40, last.CreditsDelta)
}

func TestCheckDriftReportsDivergence(t *testing.T) {
	svc, repo, _ := newHarness()
	adminID := uuid.New()
	driverID := uuid.New()

	_, err := svc.Adjust(context.Background(), adminID, driverID, 30)
	require.NoError(t, err)

	drift, err := svc.CheckDrift(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drift)

	// simulate a write that skipped the ledger
	repo.drivers[driverID].balance = 99

	drift, err = svc.CheckDrift(context.Background())
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, driverID, drift[0].DriverID)
	assert.Equal(t, 99, drift[0].CreditBalance)
	assert.Equal(t, 30, drift[0].LedgerSum)
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _, _ := newHarness()
	adminID := uuid.New()
	driverID := uuid.New()

	for _, delta := range []int{10, 20, 30} {
		_, err := svc.Adjust(context.Background(), adminID, driverID, delta)
		require.NoError(t, err)
	}

	entries, err := svc.History(context.Background(), driverID, 1, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 30, entries[0].CreditsDelta)
	assert.Equal(t, 20, entries[1].CreditsDelta)
}
