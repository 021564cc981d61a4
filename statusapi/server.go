// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package statusapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/dierickx/yardmaster"
)

// Handler wraps a *yardmaster.Master, adding http.Handler functionality,
// the same shape as the teacher's rest.Handler wrapping a *govisor.Manager.
type Handler struct {
	m *yardmaster.Master
	r *mux.Router

	user     string
	passHash []byte // bcrypt hash; empty means auth disabled
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		h.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	b, err := json.Marshal(e)
	if err != nil {
		h.internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(e.Code)
	w.Write(b)
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	serial, paused, _ := h.m.Snapshot()
	h.writeJSON(w, MasterInfo{Serial: serial, Paused: paused})
}

func (h *Handler) listListeners(w http.ResponseWriter, r *http.Request) {
	_, _, listeners := h.m.Snapshot()
	out := make([]ListenerInfo, 0, len(listeners))
	for _, l := range listeners {
		out = append(out, ListenerInfo{
			Pid: l.Pid, ID: l.ID, State: l.State,
			Current: l.Current, Running: l.Running, Workers: l.Workers,
		})
	}
	h.writeJSON(w, out)
}

func (h *Handler) getListener(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(mux.Vars(r)["pid"])
	if err != nil {
		h.writeError(w, &Error{http.StatusBadRequest, "bad pid"})
		return
	}
	_, _, listeners := h.m.Snapshot()
	for _, l := range listeners {
		if l.Pid == pid {
			h.writeJSON(w, ListenerInfo{
				Pid: l.Pid, ID: l.ID, State: l.State,
				Current: l.Current, Running: l.Running, Workers: l.Workers,
			})
			return
		}
	}
	h.writeError(w, &Error{http.StatusNotFound, "listener not found"})
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	last, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	recs, id := h.m.Log().GetRecords(last)
	out := make([]LogRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, LogRecord{Id: rec.Id, Time: rec.Time, Text: rec.Text})
	}
	w.Header().Set("Etag", strconv.FormatInt(id, 10))
	h.writeJSON(w, out)
}

// watch implements the long-poll endpoint manager.go's WatchSerial
// powered over REST: block (up to 30s) until the serial has advanced
// past ?serial=N, then return the new serial.
func (h *Handler) watch(w http.ResponseWriter, r *http.Request) {
	old, _ := strconv.ParseInt(r.URL.Query().Get("serial"), 10, 64)
	serial := h.m.Watch(old, 30*time.Second)
	h.writeJSON(w, MasterInfo{Serial: serial})
}

func (h *Handler) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	if len(h.passHash) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) != 1 ||
			bcrypt.CompareHashAndPassword(h.passHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="yardmasterd"`)
			h.writeError(w, &Error{http.StatusUnauthorized, "authentication required"})
			return
		}
		next(w, r)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler builds the router over m. user/passHash enable Basic Auth
// when passHash is a non-empty bcrypt hash (grounded on rest/client.go's
// SetAuth, which this server side now authenticates against).
func NewHandler(m *yardmaster.Master, user string, passHash []byte) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r, user: user, passHash: passHash}
	r.HandleFunc("/info", h.basicAuth(h.getInfo)).Methods("GET")
	r.HandleFunc("/listeners", h.basicAuth(h.listListeners)).Methods("GET")
	r.HandleFunc("/listeners/{pid}", h.basicAuth(h.getListener)).Methods("GET")
	r.HandleFunc("/log", h.basicAuth(h.getLog)).Methods("GET")
	r.HandleFunc("/watch", h.basicAuth(h.watch)).Methods("GET")
	return h
}
