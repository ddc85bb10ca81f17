// Package mockrpc is a tiny JSON RPC service the harness runs as a test
// double, plus a client and the plumbing to start and stop it.
//
// Requests are POST /rpc with a body of {"method": ..., "params": ...}.
// Known methods are ping, sum and authRequired; anything else is a 400.
package mockrpc

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/entrhq/authharness/pkg/logging"
)

// Path is where the service answers.
const Path = "/rpc"

// maxBody caps request bodies; the service only ever sees tiny payloads.
const maxBody = 1 << 20

// Request is an RPC call.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is an RPC reply. Exactly one of Result and Error is set.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type handler struct {
	logger *logging.Logger
}

// NewHandler returns the RPC handler. Requests to other paths, or with a
// method other than POST, get a plain 404.
func NewHandler(logger *logging.Logger) http.Handler {
	if logger == nil {
		logger = logging.Discard("mockrpc")
	}
	return &handler{logger: logger}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != Path {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "Not found")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid JSON"})
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid JSON"})
		return
	}
	h.logger.Debugf("rpc %s", req.Method)

	switch req.Method {
	case "ping":
		writeJSON(w, http.StatusOK, Response{Result: "pong"})
		return

	case "sum":
		total, ok, err := sum(req.Params)
		if !ok {
			break
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, Response{Result: total})
		return

	case "authRequired":
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, Response{Error: "missing auth"})
			return
		}
		writeJSON(w, http.StatusOK, Response{Result: "ok"})
		return
	}

	writeJSON(w, http.StatusBadRequest, Response{Error: "unknown method"})
}

type paramError string

func (e paramError) Error() string { return string(e) }

// sum adds up params. ok is false when params is not an array, which makes
// the call an unknown method. null and false count as zero and numeric
// strings are accepted; anything else is an error.
func sum(params json.RawMessage) (total float64, ok bool, err error) {
	var items []interface{}
	if len(params) == 0 || json.Unmarshal(params, &items) != nil || items == nil {
		return 0, false, nil
	}
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			total += v
		case nil:
		case bool:
			if v {
				total++
			}
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			f, perr := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if perr != nil {
				return 0, true, paramError("non-numeric param " + strconv.Quote(v))
			}
			total += f
		default:
			return 0, true, paramError("non-numeric param")
		}
	}
	return total, true, nil
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
