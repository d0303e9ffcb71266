package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/ledger"
)

const maxBodySize = 1 << 16

type createUserRequest struct {
	Name string `json:"name"`
}

type createRoomRequest struct {
	Name      string `json:"name"`
	CreatorId string `json:"creatorId"`
}

type membershipRequest struct {
	UserId string `json:"userId"`
}

type createTransactionRequest struct {
	RoomId     string `json:"roomId"`
	FromUserId string `json:"fromUserId"`
	ToUserId   string `json:"toUserId"`
	Amount     int    `json:"amount"`
}

type handlers struct {
	svc *ledger.Service
}

// NewHandler returns the API router wrapped with request logging and CORS handling.
func NewHandler(svc *ledger.Service, wsHandler http.Handler) http.Handler {
	return logRequests(cors(NewRouter(svc, wsHandler)))
}

// NewRouter registers the ledger API on a new router. The websocket handler, if not nil, is mounted at
// /ws/rooms/{id}.
func NewRouter(svc *ledger.Service, wsHandler http.Handler) *mux.Router {
	h := &handlers{svc: svc}
	router := mux.NewRouter()

	router.HandleFunc("/health", health).Methods(http.MethodGet)

	users := router.PathPrefix("/api/users").Subrouter()
	users.HandleFunc("", h.createUser).Methods(http.MethodPost)
	users.HandleFunc("", h.getAllUsers).Methods(http.MethodGet)
	users.HandleFunc("/{id}", h.getUser).Methods(http.MethodGet)

	rooms := router.PathPrefix("/api/rooms").Subrouter()
	rooms.HandleFunc("", h.createRoom).Methods(http.MethodPost)
	rooms.HandleFunc("", h.getAllRooms).Methods(http.MethodGet)
	rooms.HandleFunc("/search", h.searchRooms).Methods(http.MethodGet)
	rooms.HandleFunc("/{id}", h.getRoom).Methods(http.MethodGet)
	rooms.HandleFunc("/{id}/join", h.joinRoom).Methods(http.MethodPost)
	rooms.HandleFunc("/{id}/leave", h.leaveRoom).Methods(http.MethodPost)
	rooms.HandleFunc("/{id}/detail", h.getRoomDetail).Methods(http.MethodGet)

	transactions := router.PathPrefix("/api/transactions").Subrouter()
	transactions.HandleFunc("", h.createTransaction).Methods(http.MethodPost)
	transactions.HandleFunc("/room/{roomId}", h.getRoomTransactions).Methods(http.MethodGet)
	transactions.HandleFunc("/room/{roomId}/details", h.getTransactionDetails).Methods(http.MethodGet)

	if wsHandler != nil {
		router.Handle("/ws/rooms/{id}", wsHandler).Methods(http.MethodGet)
	}
	return router
}

// cors allows every origin and answers preflight requests directly.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		globals.AppLogger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UnixNano() / int64(time.Millisecond),
	})
}

// decode reads the JSON request body into v and answers 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	req := createUserRequest{}
	if !decode(w, r, &req) {
		return
	}
	user, err := h.svc.CreateUser(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, user)
}

func (h *handlers) getAllUsers(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.svc.GetAllUsers())
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.GetUser(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (h *handlers) createRoom(w http.ResponseWriter, r *http.Request) {
	req := createRoomRequest{}
	if !decode(w, r, &req) {
		return
	}
	room, err := h.svc.CreateRoom(req.Name, req.CreatorId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, room)
}

func (h *handlers) getAllRooms(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.svc.GetAllRooms())
}

func (h *handlers) searchRooms(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.svc.SearchRooms(r.URL.Query().Get("keyword")))
}

func (h *handlers) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.svc.GetRoom(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, room)
}

func (h *handlers) joinRoom(w http.ResponseWriter, r *http.Request) {
	req := membershipRequest{}
	if !decode(w, r, &req) {
		return
	}
	room, err := h.svc.JoinRoom(mux.Vars(r)["id"], req.UserId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, room)
}

func (h *handlers) leaveRoom(w http.ResponseWriter, r *http.Request) {
	req := membershipRequest{}
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.LeaveRoom(mux.Vars(r)["id"], req.UserId); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"message": "left room"})
}

func (h *handlers) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetRoomDetail(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, detail)
}

func (h *handlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	req := createTransactionRequest{}
	if !decode(w, r, &req) {
		return
	}
	tx, err := h.svc.CreateTransaction(req.RoomId, req.FromUserId, req.ToUserId, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, tx)
}

func (h *handlers) getRoomTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.svc.GetRoomTransactions(mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, txs)
}

func (h *handlers) getTransactionDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.svc.GetTransactionDetails(mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, details)
}
