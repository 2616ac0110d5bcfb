package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/hkdf"
)

// commandRequest is the JSON body every /command/{action} route accepts.
// Unused fields for a given action are simply ignored, matching Request's
// own "every field any action might need" shape.
type commandRequest struct {
	Index       int    `json:"index"`
	N           int    `json:"n"`
	Propagate   bool   `json:"propagate"`
	TargetXML   string `json:"target_xml"`
	NoAutoStart bool   `json:"no_auto_start"`

	ManifestFile string `json:"manifest_file"`
	IsCal        bool   `json:"iscal"`
	GenericCal   bool   `json:"generic_cal"`
	ProjectID    string `json:"project_id"`
	MSBID        string `json:"msb_id"`
	MSBTitle     string `json:"msb_title"`
	ObsMode      string `json:"obs_mode"`
	Waveband     string `json:"waveband"`

	AlertCode int `json:"alert_code"`

	TransactionKey string                 `json:"transaction_key"`
	Decision       int                    `json:"decision"`
	UserID         string                 `json:"user_id"`
	Reason         string                 `json:"reason"`
	Decisions      []commandDecisionEntry `json:"decisions"`
}

type commandDecisionEntry struct {
	Key      string `json:"key"`
	Decision int    `json:"decision"`
	UserID   string `json:"user_id"`
	Reason   string `json:"reason"`
}

func (r commandRequest) toRequest() Request {
	decisions := make([]MSBCompleteDecision, 0, len(r.Decisions))
	for _, d := range r.Decisions {
		decisions = append(decisions, MSBCompleteDecision{
			Key: d.Key, Decision: msbcompleteDecision(d.Decision), UserID: d.UserID, Reason: d.Reason,
		})
	}
	return Request{
		Index: r.Index, N: r.N, Propagate: r.Propagate, TargetXML: r.TargetXML, NoAutoStart: r.NoAutoStart,
		ManifestFile: r.ManifestFile, IsCal: r.IsCal, GenericCal: r.GenericCal,
		ProjectID: r.ProjectID, MSBID: r.MSBID, MSBTitle: r.MSBTitle, ObsMode: r.ObsMode, Waveband: r.Waveband,
		AlertCode: r.AlertCode, TransactionKey: r.TransactionKey, Decision: msbcompleteDecision(r.Decision),
		UserID: r.UserID, Reason: r.Reason, Decisions: decisions,
	}
}

// NewRouter mounts the full command RPC surface (§4.4), the monitor
// websocket feed, a JSON status snapshot, and the Prometheus metrics
// endpoint onto a chi router (SPEC_FULL.md §2.1 — chi over a bare
// ServeMux, following the richer service repo in the example pack).
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/command", func(cr chi.Router) {
		cr.Use(requireCommandToken(s.cfg.CommandAuthSecret))
		for name, action := range actionRoutes {
			cr.Post("/"+name, s.commandHandler(action))
		}
	})

	r.Post("/index", s.indexWriteHandler())
	r.Get("/status", s.statusHandler())
	r.Get("/monitor", s.pub.MonitorHandler())
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// actionRoutes names every mounted /command/{name} route (§4.4's full
// action surface).
var actionRoutes = map[string]Action{
	"poll":         ActionPoll,
	"kick_poll":    ActionKickPoll,
	"start":        ActionStart,
	"stop":         ActionStop,
	"load":         ActionLoad,
	"add_back":     ActionAddBack,
	"add_front":    ActionAddFront,
	"insert":       ActionInsert,
	"clear":        ActionClear,
	"cut":          ActionCut,
	"cutmsb":       ActionCutMSB,
	"modify":       ActionModify,
	"clear_target": ActionClearTarget,
	"suspend_msb":  ActionSuspendMSB,
	"msb_complete": ActionMSBComplete,
	"get_entry":    ActionGetEntry,
}

func (s *Server) commandHandler(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body commandRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "malformed request body", http.StatusBadRequest)
				return
			}
		}

		resp, err := s.Submit(r.Context(), action, body.toRequest())
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}

		status := http.StatusOK
		if !resp.OK {
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Warn("failed to encode command response", "error", err)
		}
	}
}

// indexWriteHandler accepts an out-of-band INDEX write from a monitor
// client (§5: "INDEX is both published AND accepted as input"). The write
// never touches Queue state directly — it is only recorded for the event
// loop to reconcile on the next poll tick.
func (s *Server) indexWriteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("value")
		idx, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "value must be an integer index", http.StatusBadRequest)
			return
		}
		s.SetExternalIndex(idx)
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.pub.Snapshot()); err != nil {
			s.logger.Warn("failed to encode status snapshot", "error", err)
		}
	}
}

var commandTokenInfo = []byte("ocsqueue-command-token-v1")

// deriveCommandKey expands the operator's configured shared secret into a
// fixed-size HMAC signing key via HKDF (RFC 5869) rather than using the
// secret's raw bytes directly.
func deriveCommandKey(secret string) ([]byte, error) {
	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, commandTokenInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

func signCommandToken(key []byte, method, path string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignCommandToken computes the X-Queue-Token value a command-surface
// client must present for the given method and path, once CommandAuthSecret
// is configured. Exported so an operator tool or test client can mint one.
func SignCommandToken(secret, method, path string) (string, error) {
	key, err := deriveCommandKey(secret)
	if err != nil {
		return "", err
	}
	return signCommandToken(key, method, path), nil
}

// requireCommandToken rejects any /command/* request whose X-Queue-Token
// header doesn't match the HMAC of its method and path, whenever secret is
// non-empty. An empty secret disables the check entirely, for local and
// simulated-backend use where there is no real instrument to protect.
func requireCommandToken(secret string) func(http.Handler) http.Handler {
	if secret == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	key, err := deriveCommandKey(secret)
	if err != nil {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "command auth misconfigured", http.StatusInternalServerError)
			})
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := signCommandToken(key, r.Method, r.URL.Path)
			got := r.Header.Get("X-Queue-Token")
			if !hmac.Equal([]byte(got), []byte(want)) {
				http.Error(w, "invalid or missing command token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
