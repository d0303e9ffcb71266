package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcriess/cardscore/ledger"
	"github.com/tcriess/cardscore/persistence"
	"github.com/tcriess/cardscore/store"
	"github.com/tcriess/cardscore/types"
)

func setupHandler(t *testing.T) http.Handler {
	t.Helper()
	svc := ledger.NewService(store.New(persistence.NewMemoryPersister(), 16))
	return NewHandler(svc, nil)
}

func httpDo(h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// decodeData unmarshals the envelope and its data into v.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) Response {
	t.Helper()
	resp := struct {
		Response
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if v != nil {
		require.NoError(t, json.Unmarshal(resp.Data, v))
	}
	return resp.Response
}

func TestUsers(t *testing.T) {
	h := setupHandler(t)

	w := httpDo(h, http.MethodPost, "/api/users", map[string]string{"name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	var alice types.User
	resp := decodeData(t, w, &alice)
	require.True(t, resp.Success)
	require.NotEmpty(t, alice.Id)
	require.Equal(t, "Alice", alice.Name)

	w = httpDo(h, http.MethodPost, "/api/users", map[string]string{"name": "Alice"})
	require.Equal(t, http.StatusCreated, w.Code)
	var again types.User
	decodeData(t, w, &again)
	require.Equal(t, alice.Id, again.Id)

	w = httpDo(h, http.MethodPost, "/api/users", map[string]string{"name": " "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp = decodeData(t, w, nil)
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Message)

	w = httpDo(h, http.MethodGet, "/api/users/"+alice.Id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(h, http.MethodGet, "/api/users/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(h, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users []types.User
	decodeData(t, w, &users)
	require.Len(t, users, 1)
}

func TestMalformedBody(t *testing.T) {
	h := setupHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFridayGameOverHTTP(t *testing.T) {
	h := setupHandler(t)

	var alice, bob types.User
	decodeData(t, httpDo(h, http.MethodPost, "/api/users", map[string]string{"name": "Alice"}), &alice)
	decodeData(t, httpDo(h, http.MethodPost, "/api/users", map[string]string{"name": "Bob"}), &bob)

	w := httpDo(h, http.MethodPost, "/api/rooms", map[string]string{"name": "Friday Game", "creatorId": alice.Id})
	require.Equal(t, http.StatusCreated, w.Code)
	var room types.Room
	decodeData(t, w, &room)
	require.Equal(t, []string{alice.Id}, room.MemberIds)

	w = httpDo(h, http.MethodPost, "/api/rooms", map[string]string{"name": "Other", "creatorId": "missing"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(h, http.MethodPost, "/api/rooms/"+room.Id+"/join", map[string]string{"userId": bob.Id})
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(h, http.MethodPost, "/api/rooms/missing/join", map[string]string{"userId": bob.Id})
	require.Equal(t, http.StatusNotFound, w.Code)

	tx := map[string]interface{}{"roomId": room.Id, "fromUserId": alice.Id, "toUserId": bob.Id, "amount": 50}
	w = httpDo(h, http.MethodPost, "/api/transactions", tx)
	require.Equal(t, http.StatusCreated, w.Code)

	tx["amount"] = 0
	w = httpDo(h, http.MethodPost, "/api/transactions", tx)
	require.Equal(t, http.StatusBadRequest, w.Code)
	tx["roomId"] = "missing"
	tx["amount"] = 5
	w = httpDo(h, http.MethodPost, "/api/transactions", tx)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(h, http.MethodGet, "/api/rooms/"+room.Id+"/detail", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail types.RoomDetail
	decodeData(t, w, &detail)
	require.Equal(t, map[string]int{alice.Id: -50, bob.Id: 50}, detail.Scores)
	require.Len(t, detail.Members, 2)

	w = httpDo(h, http.MethodPost, "/api/rooms/"+room.Id+"/leave", map[string]string{"userId": bob.Id})
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(h, http.MethodGet, "/api/transactions/room/"+room.Id+"/details", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var details []types.TransactionDetail
	decodeData(t, w, &details)
	require.Len(t, details, 1)
	require.Equal(t, "Bob", details[0].ToUserName)

	w = httpDo(h, http.MethodGet, "/api/transactions/room/"+room.Id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txs []types.Transaction
	decodeData(t, w, &txs)
	require.Len(t, txs, 1)

	w = httpDo(h, http.MethodGet, "/api/transactions/room/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = httpDo(h, http.MethodGet, "/api/rooms/missing/detail", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomListingAndSearch(t *testing.T) {
	h := setupHandler(t)
	var alice types.User
	decodeData(t, httpDo(h, http.MethodPost, "/api/users", map[string]string{"name": "Alice"}), &alice)
	for _, name := range []string{"Friday Game", "friday poker", "Sunday"} {
		w := httpDo(h, http.MethodPost, "/api/rooms", map[string]string{"name": name, "creatorId": alice.Id})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	var rooms []types.Room
	decodeData(t, httpDo(h, http.MethodGet, "/api/rooms", nil), &rooms)
	require.Len(t, rooms, 3)

	decodeData(t, httpDo(h, http.MethodGet, "/api/rooms/search?keyword=FRIDAY", nil), &rooms)
	require.Len(t, rooms, 2)

	decodeData(t, httpDo(h, http.MethodGet, "/api/rooms/search", nil), &rooms)
	require.Len(t, rooms, 3)

	w := httpDo(h, http.MethodGet, "/api/rooms/"+rooms[0].Id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = httpDo(h, http.MethodGet, "/api/rooms/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	h := setupHandler(t)
	w := httpDo(h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"OK"`)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httpDo(h, http.MethodOptions, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
