package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/gonotes/collabd/internal/auth"
	"github.com/gonotes/collabd/internal/bootstrap"
	"github.com/gonotes/collabd/internal/collab"
	"github.com/gonotes/collabd/internal/crdt"
	"github.com/gonotes/collabd/internal/room"
	"github.com/gonotes/collabd/internal/storage"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type stubGate struct {
	claims auth.Claims
	err    error
}

func (g *stubGate) Authorize(_ context.Context, _ string, rawRoomID string) (auth.Claims, error) {
	if _, err := room.ParseID(rawRoomID); err != nil {
		return auth.Claims{}, err
	}
	if g.err != nil {
		return auth.Claims{}, g.err
	}
	return g.claims, nil
}

func TestHealthEndpoint(t *testing.T) {
	fixture := mustFixture(t, &stubGate{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", recorder.Body.String())
	}
}

func TestInitializeDocumentSeedsTemplate(t *testing.T) {
	fixture := mustFixture(t, &stubGate{})

	recorder := fixture.postJSON(t, "/initialize-document", `{"room_id":"w1_n4"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	snapshot, err := fixture.store.Fetch(context.Background(), 4)
	if err != nil {
		t.Fatalf("expected stored template, got %v", err)
	}
	if len(snapshot) == 0 {
		t.Fatal("expected non-empty template snapshot")
	}
}

func TestInitializeDocumentRejectsMalformedRoom(t *testing.T) {
	fixture := mustFixture(t, &stubGate{})

	recorder := fixture.postJSON(t, "/initialize-document", `{"room_id":"note4"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestInitializeDocumentRejectsMissingRoomID(t *testing.T) {
	fixture := mustFixture(t, &stubGate{})

	recorder := fixture.postJSON(t, "/initialize-document", `{}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestInitializeDocumentRefusesActiveRoom(t *testing.T) {
	fixture := mustFixture(t, &stubGate{})

	roomID, err := room.ParseID("w1_n5")
	if err != nil {
		t.Fatalf("failed to parse room id: %v", err)
	}
	sess := collab.NewSession("conn-1", 10, 1)
	liveRoom, err := fixture.registry.Attach(roomID, sess)
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	defer liveRoom.Leave(sess)

	recorder := fixture.postJSON(t, "/initialize-document", `{"room_id":"w1_n5"}`)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 for active room, got %d", recorder.Code)
	}
}

func TestCollabRejectsUnauthorizedConnection(t *testing.T) {
	fixture := mustFixture(t, &stubGate{err: auth.ErrDenied})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/collab?room=w1_n1&token=bad", nil)
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	if fixture.registry.Live(mustRoomID(t, "w1_n1")) {
		t.Fatal("expected no room to be created for a rejected connection")
	}
}

func TestCollabRejectsMalformedRoom(t *testing.T) {
	fixture := mustFixture(t, &stubGate{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/collab?room=bogus&token=x", nil)
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestCollabDeliversSnapshotOnConnect(t *testing.T) {
	fixture := mustFixture(t, &stubGate{claims: auth.Claims{UserID: 10, WorkspaceID: 3}})
	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	conn := mustDial(t, server, "w3_n7")
	defer conn.Close()

	first := mustReadFrame(t, conn)
	if first.Type != collab.FrameSync {
		t.Fatalf("expected sync frame first, got %q", first.Type)
	}
	second := mustReadFrame(t, conn)
	if second.Type != collab.FrameAwarenessState {
		t.Fatalf("expected awareness-state frame second, got %q", second.Type)
	}
}

func TestCollabRelaysUpdatesBetweenConnections(t *testing.T) {
	fixture := mustFixture(t, &stubGate{claims: auth.Claims{UserID: 10, WorkspaceID: 3}})
	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	sender := mustDial(t, server, "w3_n8")
	defer sender.Close()
	receiver := mustDial(t, server, "w3_n8")
	defer receiver.Close()

	mustReadFrame(t, sender)
	mustReadFrame(t, sender)
	mustReadFrame(t, receiver)
	mustReadFrame(t, receiver)

	update := []byte(`{"insert":"hello"}`)
	mustWriteFrame(t, sender, collab.Frame{Type: collab.FrameUpdate, Payload: update})

	relayed := mustReadFrame(t, receiver)
	if relayed.Type != collab.FrameUpdate {
		t.Fatalf("expected update frame, got %q", relayed.Type)
	}
	if !bytes.Equal(relayed.Payload, update) {
		t.Fatalf("expected relayed payload %q, got %q", update, relayed.Payload)
	}
}

func TestCollabRelaysAwarenessAndLeave(t *testing.T) {
	fixture := mustFixture(t, &stubGate{claims: auth.Claims{UserID: 10, WorkspaceID: 3}})
	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	mover := mustDial(t, server, "w3_n9")
	watcher := mustDial(t, server, "w3_n9")
	defer watcher.Close()

	mustReadFrame(t, mover)
	mustReadFrame(t, mover)
	mustReadFrame(t, watcher)
	mustReadFrame(t, watcher)

	mustWriteFrame(t, mover, collab.Frame{
		Type: collab.FrameAwareness,
		Awareness: &collab.AwarenessState{
			Name:   "Ada",
			Color:  "#3498db",
			Cursor: &collab.CursorRange{Index: 4, Length: 2},
		},
	})

	presence := mustReadFrame(t, watcher)
	if presence.Type != collab.FrameAwareness {
		t.Fatalf("expected awareness frame, got %q", presence.Type)
	}
	if presence.Awareness == nil || presence.Awareness.Name != "Ada" {
		t.Fatalf("expected Ada's presence, got %+v", presence.Awareness)
	}

	if err := mover.Close(); err != nil {
		t.Fatalf("failed to close mover connection: %v", err)
	}

	leave := mustReadFrame(t, watcher)
	if leave.Type != collab.FrameLeave {
		t.Fatalf("expected leave frame after disconnect, got %q", leave.Type)
	}
	if leave.ConnectionID != presence.ConnectionID {
		t.Fatalf("expected leave for connection %q, got %q", presence.ConnectionID, leave.ConnectionID)
	}
}

type serverFixture struct {
	handler  http.Handler
	registry *collab.Registry
	store    *storage.Store
}

func (f *serverFixture) postJSON(t *testing.T, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func mustFixture(t *testing.T, gate Authorizer) *serverFixture {
	t.Helper()

	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access database pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(&storage.DocumentSnapshot{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := storage.NewStore(storage.StoreConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	engine := crdt.NewUpdateSetEngine()
	registry, err := collab.NewRegistry(collab.RegistryConfig{
		Store:  store,
		Engine: engine,
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("registry shutdown failed: %v", err)
		}
	})

	seeder, err := bootstrap.NewSeeder(bootstrap.SeederConfig{
		Store:  store,
		Engine: engine,
		Rooms:  registry,
	})
	if err != nil {
		t.Fatalf("failed to create seeder: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Gate:     gate,
		Registry: registry,
		Seeder:   seeder,
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}
	return &serverFixture{handler: handler, registry: registry, store: store}
}

func mustDial(t *testing.T, server *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/collab?room=" + roomID + "&token=credential"
	conn, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if response != nil {
			status = response.StatusCode
		}
		t.Fatalf("websocket dial failed (status %d): %v", status, err)
	}
	return conn
}

func mustReadFrame(t *testing.T, conn *websocket.Conn) collab.Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame collab.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("failed to decode frame %s: %v", raw, err)
	}
	return frame
}

func mustWriteFrame(t *testing.T, conn *websocket.Conn, frame collab.Frame) {
	t.Helper()
	encoded, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func mustRoomID(t *testing.T, raw string) room.ID {
	t.Helper()
	id, err := room.ParseID(raw)
	if err != nil {
		t.Fatalf("failed to parse room id %q: %v", raw, err)
	}
	return id
}
