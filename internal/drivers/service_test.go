package drivers

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/models"
)

type fakeRepo struct {
	mu           sync.Mutex
	drivers      map[uuid.UUID]*models.Driver
	users        map[string]*models.User
	recomputed   []uuid.UUID
	lastAccepted []uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		drivers: make(map[uuid.UUID]*models.Driver),
		users:   make(map[string]*models.User),
	}
}

func (f *fakeRepo) add(status models.DriverStatus) *models.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &models.Driver{ID: uuid.New(), UserID: uuid.New(), Status: status, Rating: 5.0}
	f.drivers[d.ID] = d
	return d
}

func (f *fakeRepo) CreateWithUser(_ context.Context, user *models.User, driver *models.Driver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.Phone]; ok {
		return ErrPhoneTaken
	}
	f.users[user.Phone] = user
	copied := *driver
	f.drivers[driver.ID] = &copied
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*models.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.drivers {
		if d.UserID == userID {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to models.DriverStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

func (f *fakeRepo) ForceStatus(_ context.Context, id uuid.UUID, to models.DriverStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drivers[id]
	if !ok {
		return pgx.ErrNoRows
	}
	d.Status = to
	return nil
}

func (f *fakeRepo) UpdateProfile(_ context.Context, d *models.Driver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *d
	f.drivers[d.ID] = &copied
	return nil
}

func (f *fakeRepo) SetFlagged(_ context.Context, id uuid.UUID, flagged bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.drivers[id]; ok {
		d.IsFlagged = flagged
	}
	return nil
}

func (f *fakeRepo) RecomputeAcceptanceRate(_ context.Context, id uuid.UUID) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputed = append(f.recomputed, id)
	return 0.8, nil
}

func (f *fakeRepo) TouchLastAccepted(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAccepted = append(f.lastAccepted, id)
	return nil
}

func (f *fakeRepo) ListFlagged(_ context.Context) ([]*models.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Driver
	for _, d := range f.drivers {
		if d.IsFlagged {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeRepo) status(id uuid.UUID) models.DriverStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[id].Status
}

func assertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.ErrorCode)
}

func TestRegisterCreatesOfflineDriver(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	driver, err := svc.Register(context.Background(), &RegisterDriverRequest{
		Phone:       "+93 700 111-222",
		Name:        "Karim",
		VehicleType: "sedan",
		PlateNumber: "KBL-1234",
		City:        "Kabul",
		BaseFare:    30,
		PerKmRate:   12,
	})
	require.NoError(t, err)

	assert.Equal(t, models.DriverOffline, driver.Status)
	assert.Equal(t, 5.0, driver.Rating)

	user, ok := repo.users["+93700111222"]
	require.True(t, ok)
	assert.Equal(t, models.RoleDriver, user.Role)
	assert.Equal(t, user.ID, driver.UserID)
}

func TestRegisterDuplicatePhone(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	req := &RegisterDriverRequest{Phone: "+93700111222", VehicleType: "sedan", PlateNumber: "KBL-1", City: "Kabul"}
	_, err := svc.Register(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), req)
	assertErrorCode(t, err, common.CodeConflict)
}

func TestSetAvailabilityOnlineOffline(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverOffline)

	got, err := svc.SetAvailability(context.Background(), d.ID, models.DriverOnline)
	require.NoError(t, err)
	assert.Equal(t, models.DriverOnline, got.Status)

	got, err = svc.SetAvailability(context.Background(), d.ID, models.DriverOffline)
	require.NoError(t, err)
	assert.Equal(t, models.DriverOffline, got.Status)
}

func TestSetAvailabilityIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverOnline)

	got, err := svc.SetAvailability(context.Background(), d.ID, models.DriverOnline)
	require.NoError(t, err)
	assert.Equal(t, models.DriverOnline, got.Status)
}

func TestSetAvailabilityRejectsBusyDriver(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverBusy)

	_, err := svc.SetAvailability(context.Background(), d.ID, models.DriverOffline)
	assertErrorCode(t, err, common.CodeInvalidStateTransition)
	assert.Equal(t, models.DriverBusy, repo.status(d.ID))
}

func TestSetAvailabilityRejectsSuspendedDriver(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverSuspended)

	_, err := svc.SetAvailability(context.Background(), d.ID, models.DriverOnline)
	assertErrorCode(t, err, common.CodeInvalidStateTransition)
}

func TestSetAvailabilityValidatesTarget(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverOnline)

	_, err := svc.SetAvailability(context.Background(), d.ID, models.DriverBusy)
	assertErrorCode(t, err, common.CodeValidationFailed)
}

func TestMarkBusyOnlyFromOnline(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	online := repo.add(models.DriverOnline)
	ok, err := svc.MarkBusy(context.Background(), online.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.DriverBusy, repo.status(online.ID))

	offline := repo.add(models.DriverOffline)
	ok, err = svc.MarkBusy(context.Background(), offline.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseReturnsBusyDriverOnline(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverBusy)

	require.NoError(t, svc.Release(context.Background(), d.ID))
	assert.Equal(t, models.DriverOnline, repo.status(d.ID))
}

func TestReleaseLeavesSuspendedDriverAlone(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverSuspended)

	require.NoError(t, svc.Release(context.Background(), d.ID))
	assert.Equal(t, models.DriverSuspended, repo.status(d.ID))
}

func TestSuspendFromAnyState(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	for _, from := range []models.DriverStatus{models.DriverOffline, models.DriverOnline, models.DriverBusy} {
		d := repo.add(from)
		require.NoError(t, svc.Suspend(context.Background(), d.ID))
		assert.Equal(t, models.DriverSuspended, repo.status(d.ID))
	}
}

func TestUnsuspendRequiresSuspendedState(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	suspended := repo.add(models.DriverSuspended)
	require.NoError(t, svc.Unsuspend(context.Background(), suspended.ID))
	assert.Equal(t, models.DriverOffline, repo.status(suspended.ID))

	online := repo.add(models.DriverOnline)
	err := svc.Unsuspend(context.Background(), online.ID)
	assertErrorCode(t, err, common.CodeInvalidStateTransition)
}

func TestUpdateProfileAppliesNonZeroFields(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverOffline)
	d.VehicleType = "sedan"
	d.BaseFare = 30

	got, err := svc.UpdateProfile(context.Background(), d.ID, &UpdateProfileRequest{
		PlateNumber: "KBL-9999",
		PerKmRate:   15,
	})
	require.NoError(t, err)

	assert.Equal(t, "KBL-9999", got.PlateNumber)
	assert.Equal(t, 15.0, got.PerKmRate)
	assert.Equal(t, "sedan", got.VehicleType)
	assert.Equal(t, 30.0, got.BaseFare)
}

func TestFlagAndUnflag(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverOnline)

	require.NoError(t, svc.Flag(context.Background(), d.ID))
	flagged, err := svc.ListFlagged(context.Background())
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, d.ID, flagged[0].ID)

	require.NoError(t, svc.Unflag(context.Background(), d.ID))
	flagged, err = svc.ListFlagged(context.Background())
	require.NoError(t, err)
	assert.Empty(t, flagged)
}

func TestRecordOfferOutcome(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	d := repo.add(models.DriverOnline)

	svc.RecordOfferOutcome(context.Background(), d.ID, true)
	svc.RecordOfferOutcome(context.Background(), d.ID, false)

	assert.Equal(t, []uuid.UUID{d.ID}, repo.lastAccepted)
	assert.Equal(t, []uuid.UUID{d.ID, d.ID}, repo.recomputed)
}

func TestGetDriverNotFound(t *testing.T) {
	svc := NewService(newFakeRepo())

	_, err := svc.GetDriver(context.Background(), uuid.New())
	assertErrorCode(t, err, common.CodeNotFound)
}
