// Package api serves snapshot queries over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/netip"
	"strconv"
	"sync"

	"Go2NetStats/internal/logging"
	"Go2NetStats/internal/model"
	"Go2NetStats/internal/query"

	"github.com/gorilla/mux"
)

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	querier query.Querier

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewAPIHandler creates a handler answering from q. A nil rng is replaced by
// a randomly seeded one.
func NewAPIHandler(q query.Querier, rng *rand.Rand) *APIHandler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &APIHandler{querier: q, rng: rng}
}

// NewRouter registers every route of h under /api/v1.
func NewRouter(h *APIHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/summary", h.summaryHandler).Methods(http.MethodGet)
	v1.HandleFunc("/hosts/most-used", h.mostUsedHandler).Methods(http.MethodGet)
	v1.HandleFunc("/hosts/random", h.randomHandler).Methods(http.MethodGet)
	v1.HandleFunc("/hosts/{ip}/mac", h.macHandler).Methods(http.MethodGet)
	v1.HandleFunc("/hosts/{ip}/rates", h.ratesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/hosts/{ip}/ttl", h.ttlHandler).Methods(http.MethodGet)
	v1.HandleFunc("/hosts/{ip}/mss", h.mssHandler).Methods(http.MethodGet)
	v1.HandleFunc("/hosts/{ip}/ports", h.portsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{name}", h.tableHandler).Methods(http.MethodGet)
	return r
}

func (h *APIHandler) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) summaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.querier.Summary())
}

type hostResponse struct {
	IP string `json:"ip"`
}

func (h *APIHandler) mostUsedHandler(w http.ResponseWriter, r *http.Request) {
	ip, err := h.querier.MostUsedIP()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostResponse{IP: ip.String()})
}

func (h *APIHandler) randomHandler(w http.ResponseWriter, r *http.Request) {
	h.rngMu.Lock()
	ip, err := h.querier.RandomIP(h.rng)
	h.rngMu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hostResponse{IP: ip.String()})
}

func (h *APIHandler) macHandler(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathIP(w, r)
	if !ok {
		return
	}
	mac, err := h.querier.MACAddress(ip)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ip": ip.String(), "mac": mac})
}

type ratesResponse struct {
	IP string `json:"ip"`
	query.Rates
}

func (h *APIHandler) ratesHandler(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathIP(w, r)
	if !ok {
		return
	}
	rates, err := h.querier.PacketRates(ip)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratesResponse{IP: ip.String(), Rates: rates})
}

func (h *APIHandler) ttlHandler(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathIP(w, r)
	if !ok {
		return
	}
	dist, err := h.querier.TTLDistribution(ip)
	if err != nil {
		writeError(w, err)
		return
	}
	// JSON object keys must be strings.
	out := make(map[string]uint64, len(dist))
	for ttl, n := range dist {
		out[strconv.Itoa(int(ttl))] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip.String(), "ttl": out})
}

type mssResponse struct {
	IP  string  `json:"ip"`
	MSS *uint16 `json:"mss"`
}

func (h *APIHandler) mssHandler(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathIP(w, r)
	if !ok {
		return
	}
	mss, found, err := h.querier.MostUsedMSS(ip)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := mssResponse{IP: ip.String()}
	if found {
		resp.MSS = &mss
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) portsHandler(w http.ResponseWriter, r *http.Request) {
	ip, ok := pathIP(w, r)
	if !ok {
		return
	}
	dirName := r.URL.Query().Get("direction")
	if dirName == "" {
		dirName = model.DirectionOut.String()
	}
	dir, ok := model.ParseDirection(dirName)
	if !ok {
		writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid direction %q (must be in or out)", dirName))
		return
	}
	ports, err := h.querier.PortsUsed(ip, dir)
	if err != nil {
		writeError(w, err)
		return
	}
	if ports == nil {
		ports = []query.PortCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip.String(), "direction": dir.String(), "ports": ports})
}

type columnResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Key  bool   `json:"key"`
}

type tableResponse struct {
	Name    string           `json:"name"`
	Columns []columnResponse `json:"columns"`
	Rows    []model.Row      `json:"rows"`
}

func (h *APIHandler) tableHandler(w http.ResponseWriter, r *http.Request) {
	t, err := h.querier.Table(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	resp := tableResponse{Name: t.Name, Rows: t.Rows}
	for _, c := range t.Keys {
		resp.Columns = append(resp.Columns, columnResponse{Name: c.Name, Type: string(c.Type), Key: true})
	}
	for _, c := range t.Values {
		resp.Columns = append(resp.Columns, columnResponse{Name: c.Name, Type: string(c.Type)})
	}
	if resp.Rows == nil {
		resp.Rows = []model.Row{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathIP(w http.ResponseWriter, r *http.Request) (netip.Addr, bool) {
	raw := mux.Vars(r)["ip"]
	ip, err := netip.ParseAddr(raw)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, fmt.Errorf("invalid IP address %q", raw))
		return netip.Addr{}, false
	}
	return ip, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithComponent("api").Warnf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, query.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, query.ErrInvalidSnapshot):
		status = http.StatusUnprocessableEntity
	}
	writeErrorStatus(w, status, err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
