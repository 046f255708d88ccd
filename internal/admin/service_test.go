package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/pkg/common"
	"github.com/hamsafar/dispatch/pkg/models"
	"github.com/hamsafar/dispatch/pkg/rooms"
)

type fakeRepo struct {
	mu     sync.Mutex
	alerts []*models.AdminAlert
}

func (f *fakeRepo) InsertAlert(_ context.Context, alert *models.AdminAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert.CreatedAt = time.Now()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeRepo) ListAlerts(_ context.Context, openOnly bool, limit, offset int) ([]*models.AdminAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.AdminAlert
	for i := len(f.alerts) - 1; i >= 0; i-- {
		a := f.alerts[i]
		if openOnly && a.AcknowledgedAt != nil {
			continue
		}
		out = append(out, a)
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

func (f *fakeRepo) AcknowledgeAlert(_ context.Context, id uuid.UUID) (*models.AdminAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id && a.AcknowledgedAt == nil {
			now := time.Now()
			a.AcknowledgedAt = &now
			return a, nil
		}
	}
	return nil, nil
}

type fakeEmitter struct {
	mu       sync.Mutex
	messages map[string][]*rooms.Message
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{messages: make(map[string][]*rooms.Message)}
}

func (f *fakeEmitter) EmitToRoom(room string, msg *rooms.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[room] = append(f.messages[room], msg)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	phones []string
	bodies []string
}

func (f *fakeNotifier) SendOpsAlert(_ context.Context, phone, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phones = append(f.phones, phone)
	f.bodies = append(f.bodies, body)
}

func TestRecordAlertPersistsAndNotifies(t *testing.T) {
	repo := &fakeRepo{}
	emitter := newFakeEmitter()
	notifier := &fakeNotifier{}
	svc := NewService(repo, emitter, notifier, "+93700000000")

	svc.RecordAlert(context.Background(), "PAYOUT_FAILED", "transfer po-1 failed")

	require.Len(t, repo.alerts, 1)
	assert.Equal(t, "PAYOUT_FAILED", repo.alerts[0].Kind)

	require.Len(t, emitter.messages[rooms.AdminRoom], 1)
	assert.Equal(t, "admin:alert", emitter.messages[rooms.AdminRoom][0].Type)

	require.Len(t, notifier.bodies, 1)
	assert.Equal(t, "+93700000000", notifier.phones[0])
	assert.Contains(t, notifier.bodies[0], "PAYOUT_FAILED")
	assert.Contains(t, notifier.bodies[0], "transfer po-1 failed")
}

func TestRecordAlertSkipsOpsPhoneWhenUnset(t *testing.T) {
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	svc := NewService(repo, newFakeEmitter(), notifier, "")

	svc.RecordAlert(context.Background(), "SOS", "rider pressed sos")

	require.Len(t, repo.alerts, 1)
	assert.Empty(t, notifier.bodies)
}

func TestRecordAlertDetailsKeepsPayload(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "")

	svc.RecordAlertDetails(context.Background(), "RECON_MISMATCH", "totals diverged", `{"db":100,"provider":90}`)

	require.Len(t, repo.alerts, 1)
	require.NotNil(t, repo.alerts[0].Details)
	assert.Contains(t, *repo.alerts[0].Details, `"provider":90`)
}

func TestListAlertsOpenOnly(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "")
	ctx := context.Background()

	svc.RecordAlert(ctx, "SOS", "first")
	svc.RecordAlert(ctx, "LEDGER_DRIFT", "second")

	_, err := svc.Acknowledge(ctx, repo.alerts[0].ID)
	require.NoError(t, err)

	open, err := svc.ListAlerts(ctx, true, 1, 20)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "LEDGER_DRIFT", open[0].Kind)

	all, err := svc.ListAlerts(ctx, false, 1, 20)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAcknowledgeTwiceConflicts(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, nil, nil, "")
	ctx := context.Background()

	svc.RecordAlert(ctx, "SOS", "rider pressed sos")
	id := repo.alerts[0].ID

	first, err := svc.Acknowledge(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, first.AcknowledgedAt)

	_, err = svc.Acknowledge(ctx, id)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeNotFound, appErr.ErrorCode)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	svc := NewService(&fakeRepo{}, nil, nil, "")

	_, err := svc.Acknowledge(context.Background(), uuid.New())
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, common.CodeNotFound, appErr.ErrorCode)
}
