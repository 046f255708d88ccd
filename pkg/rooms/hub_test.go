package rooms

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamsafar/dispatch/pkg/geohash"
)

func newTestClient(userID, driverID, role string, hub *Hub) *Client {
	return NewClient(userID, driverID, role, nil, hub)
}

// flush waits until every op queued before it has been processed, using the
// FIFO guarantee of the dispatch loop.
func flush(t *testing.T, hub *Hub, probe *Client) {
	t.Helper()
	require.NoError(t, hub.EmitToRoom(UserRoom(probe.UserID), &Message{Type: "probe"}))
	select {
	case <-probe.Send:
	case <-time.After(2 * time.Second):
		t.Fatal("hub dispatch stalled")
	}
}

func startHub(t *testing.T) (*Hub, *Client) {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Close)

	probe := newTestClient("probe", "", "rider", hub)
	hub.Register(probe)
	return hub, probe
}

func TestRegisterJoinsDirectRooms(t *testing.T) {
	hub, probe := startHub(t)

	driver := newTestClient("u1", "d1", "driver", hub)
	admin := newTestClient("u2", "", "admin", hub)
	hub.Register(driver)
	hub.Register(admin)
	flush(t, hub, probe)

	assert.Contains(t, hub.Members(UserRoom("u1")), "u1")
	assert.Contains(t, hub.Members(DriverRoom("d1")), "u1")
	assert.Contains(t, hub.Members(AdminRoom), "u2")
	assert.NotContains(t, hub.Members(AdminRoom), "u1")
}

func TestEmitGlobalBroadcastForbidden(t *testing.T) {
	hub, _ := startHub(t)

	err := hub.EmitToRoom("", &Message{Type: "trip:accepted"})
	assert.ErrorIs(t, err, ErrGlobalBroadcast)

	err = hub.EmitToRoom("*", &Message{Type: "trip:accepted"})
	assert.ErrorIs(t, err, ErrGlobalBroadcast)
}

func TestEmitToRoomDeliversInOrder(t *testing.T) {
	hub, probe := startHub(t)

	rider := newTestClient("r1", "", "rider", hub)
	hub.Register(rider)
	flush(t, hub, probe)

	for i := 0; i < 20; i++ {
		require.NoError(t, hub.EmitToRoom(UserRoom("r1"), &Message{
			Type: "trip:distance_update",
			Data: map[string]interface{}{"seq": i},
		}))
	}
	flush(t, hub, probe)

	for i := 0; i < 20; i++ {
		select {
		case msg := <-rider.Send:
			assert.Equal(t, i, msg.Data["seq"])
		default:
			t.Fatalf("message %d not delivered", i)
		}
	}
}

func TestMoveToGeoRoomIsExclusive(t *testing.T) {
	hub, probe := startHub(t)

	driver := newTestClient("u1", "d1", "driver", hub)
	hub.Register(driver)

	hub.MoveToGeoRoom(driver, "tx2dhj")
	flush(t, hub, probe)
	assert.Contains(t, hub.Members(GeoRoom("tx2dhj")), "u1")

	hub.MoveToGeoRoom(driver, "tx2dhk")
	flush(t, hub, probe)

	assert.Empty(t, hub.Members(GeoRoom("tx2dhj")))
	assert.Contains(t, hub.Members(GeoRoom("tx2dhk")), "u1")
	assert.Equal(t, GeoRoom("tx2dhk"), driver.GeoRoom())
}

func TestSpatialFiltering(t *testing.T) {
	// S2: nearby rider receives position updates, distant rider does not
	hub, probe := startHub(t)

	driverHash := geohash.Encode(40.7128, -74.0060, 6)
	nearHash := geohash.Encode(40.7130, -74.0062, 6)
	farHash := geohash.Encode(34.0522, -118.2437, 6)

	near := newTestClient("r1", "", "rider", hub)
	far := newTestClient("r2", "", "rider", hub)
	hub.Register(near)
	hub.Register(far)
	hub.MoveToGeoRoom(near, nearHash)
	hub.MoveToGeoRoom(far, farHash)
	flush(t, hub, probe)

	for _, tile := range geohash.Neighbors(driverHash) {
		require.NoError(t, hub.EmitToRoom(GeoRoom(tile), &Message{
			Type: "driver:location:update",
			Data: map[string]interface{}{"driver_id": "d1"},
		}))
	}
	flush(t, hub, probe)

	select {
	case msg := <-near.Send:
		assert.Equal(t, "driver:location:update", msg.Type)
	default:
		t.Fatal("nearby rider received nothing")
	}

	select {
	case msg := <-far.Send:
		t.Fatalf("distant rider received %q", msg.Type)
	default:
	}
}

func TestUnregisterRevokesMembership(t *testing.T) {
	hub, probe := startHub(t)

	rider := newTestClient("r1", "", "rider", hub)
	hub.Register(rider)
	hub.MoveToGeoRoom(rider, "tx2dhj")
	flush(t, hub, probe)

	hub.Unregister(rider)
	flush(t, hub, probe)

	assert.Empty(t, hub.Members(UserRoom("r1")))
	assert.Empty(t, hub.Members(GeoRoom("tx2dhj")))

	// channel is closed, no further deliveries
	_, open := <-rider.Send
	assert.False(t, open)

	require.NoError(t, hub.EmitToRoom(UserRoom("r1"), &Message{Type: "late"}))
	flush(t, hub, probe)
}

type fakeBridge struct {
	mu        sync.Mutex
	published []string
	deliver   func(room string, msg *Message)
}

func (f *fakeBridge) Publish(room string, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, room)
	return nil
}

func (f *fakeBridge) Subscribe(deliver func(room string, msg *Message)) error {
	f.deliver = deliver
	return nil
}

func (f *fakeBridge) Close() error { return nil }

func (f *fakeBridge) publishedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func TestBridgeRelaysLocalEmits(t *testing.T) {
	bridge := &fakeBridge{}
	hub := NewHub(bridge)
	go hub.Run()
	t.Cleanup(hub.Close)

	probe := newTestClient("probe", "", "rider", hub)
	hub.Register(probe)
	flush(t, hub, probe)

	assert.Contains(t, bridge.publishedRooms(), UserRoom("probe"))
}

func TestBridgeDeliversRemoteEmits(t *testing.T) {
	bridge := &fakeBridge{}
	hub := NewHub(bridge)
	go hub.Run()
	t.Cleanup(hub.Close)

	probe := newTestClient("probe", "", "rider", hub)
	rider := newTestClient("r1", "", "rider", hub)
	hub.Register(probe)
	hub.Register(rider)
	flush(t, hub, probe)
	require.NotNil(t, bridge.deliver)

	before := len(bridge.publishedRooms())
	bridge.deliver(UserRoom("r1"), &Message{Type: "trip:accepted"})
	flush(t, hub, probe)

	select {
	case msg := <-rider.Send:
		assert.Equal(t, "trip:accepted", msg.Type)
	default:
		t.Fatal("remote emit not delivered locally")
	}

	// remote emits must not be re-published
	after := bridge.publishedRooms()
	for _, room := range after[before:] {
		assert.NotEqual(t, UserRoom("r1"), room)
	}
}
