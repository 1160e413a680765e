package routes

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kabili207/mesh-chat-gateway/internal/web"
	"github.com/kabili207/mesh-chat-gateway/pkg/config"
	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
	"github.com/kabili207/mesh-chat-gateway/pkg/store"
)

const lastHeardFormat = "02/01/2006, 15:04:05"

// WebRouter serves the map dashboard and the node API. It reads from the
// live radio snapshot for map data and from the durable directory for the
// node listing; it never mutates either.
type WebRouter struct {
	cfg      config.WebAppSettings
	snap     radio.NodeSnapshot
	dir      store.NodeDirectory
	Notifier *NodeNotifier
}

func NewWebRouter(cfg config.WebAppSettings, snap radio.NodeSnapshot, dir store.NodeDirectory) *WebRouter {
	return &WebRouter{
		cfg:      cfg,
		snap:     snap,
		dir:      dir,
		Notifier: NewNodeNotifier(),
	}
}

// ListenAndServe blocks serving HTTP on the configured address.
func (wr *WebRouter) ListenAndServe() error {
	myRouter := mux.NewRouter().StrictSlash(true)

	myRouter.HandleFunc("/", wr.homePage)
	myRouter.HandleFunc("/index.htm", wr.homePage)
	myRouter.HandleFunc("/index.html", wr.homePage)
	myRouter.HandleFunc("/script.js", wr.mapScript)
	myRouter.HandleFunc("/data.json", wr.dataJSON).Methods("GET")
	myRouter.HandleFunc("/api/nodes", wr.getNodes).Methods("GET")
	myRouter.HandleFunc("/api/nodes-sse", wr.nodesSSE).Methods("GET")

	staticFS, _ := fs.Sub(web.ContentFS, "static")
	myRouter.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServerFS(staticFS)))

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(RequestLogger)
	h := handlers.RecoveryHandler()

	return http.ListenAndServe(wr.cfg.ListenAddr, h(myRouter))
}

func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Info("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func (wr *WebRouter) homePage(w http.ResponseWriter, r *http.Request) {
	body, err := web.ContentFS.ReadFile("static/index.html")
	if err != nil {
		slog.Error("error reading index page", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(body)
}

// mapScript serves the map bootstrap with the configured center baked in.
func (wr *WebRouter) mapScript(w http.ResponseWriter, r *http.Request) {
	body, err := web.ContentFS.ReadFile("static/script.js")
	if err != nil {
		slog.Error("error reading map script", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	script := strings.NewReplacer(
		"{{CENTER_LATITUDE}}", strconv.FormatFloat(wr.cfg.CenterLatitude, 'f', -1, 64),
		"{{CENTER_LONGITUDE}}", strconv.FormatFloat(wr.cfg.CenterLongitude, 'f', -1, 64),
	).Replace(string(body))
	w.Header().Set("Content-Type", "application/javascript")
	w.Write([]byte(script))
}

// dataJSON renders the map rows. Supported query parameters: tail (seconds,
// hides nodes heard longer ago) and name (exact long-name match).
func (wr *WebRouter) dataJSON(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	tail := time.Duration(wr.cfg.LastHeardDefault) * time.Second
	if raw := query.Get("tail"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil {
			tail = time.Duration(secs) * time.Second
		} else {
			slog.Error("wrong tail value", "tail", raw)
		}
	}
	name := query.Get("name")

	rows := dataRows(wr.snap.NodesWithUser(), tail, name, time.Now())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// dataRows builds one row per mappable node: long name, latitude, longitude,
// hardware link, snr, last heard, battery level, altitude. Nodes without
// usable coordinates or outside the tail window are skipped.
func dataRows(nodes []*radio.NodeEntry, tail time.Duration, name string, now time.Time) [][]any {
	rows := [][]any{}
	for _, n := range nodes {
		pos := n.Position
		if pos == nil || pos.Latitude == nil || pos.Longitude == nil {
			continue
		}
		lat, lon := *pos.Latitude, *pos.Longitude
		if lat == 0 || lon == 0 {
			continue
		}
		if now.Sub(n.LastHeard) > tail {
			continue
		}
		if name != "" && n.User.LongName != name {
			continue
		}

		// No signal info, use default MAX (10.0)
		snr := 10.0
		if n.RxSnr != nil {
			snr = *n.RxSnr
		}
		battery := 100.0
		if pos.BatteryLevel != nil {
			battery = *pos.BatteryLevel
		}
		altitude := 0.0
		if pos.Altitude != nil {
			altitude = *pos.Altitude
		}

		rows = append(rows, []any{
			n.User.LongName,
			formatCoord(lat),
			formatCoord(lon),
			hwLink(n.User.HwModel),
			snr,
			n.LastHeard.Format(lastHeardFormat),
			battery,
			altitude,
		})
	}
	return rows
}

// formatCoord rounds to five decimal places, about one meter of precision.
func formatCoord(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e5)/1e5, 'f', -1, 64)
}

// hwLink renders a hardware model as a link to its documentation page where
// one is known.
func hwLink(hwModel string) string {
	if hwModel == "" {
		return "unknown"
	}
	if hwModel == "TBEAM" {
		return `<a href="https://meshtastic.org/docs/hardware/supported/tbeam">TBEAM</a>`
	}
	if strings.HasPrefix(hwModel, "TLORA") {
		return `<a href="https://meshtastic.org/docs/hardware/supported/lora">TLORA</a>`
	}
	return hwModel
}

type NodeResponse struct {
	NodeID    string   `json:"node_id"`
	NodeName  string   `json:"node_name"`
	HwModel   string   `json:"hw_model,omitempty"`
	LastHeard string   `json:"last_heard"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type NodesResponse struct {
	Nodes []NodeResponse `json:"nodes"`
}

// getNodes returns the durable node directory with each node's latest known
// coordinates.
func (wr *WebRouter) getNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := wr.dir.ListNodesWithPosition()
	if err != nil {
		slog.Error("error fetching nodes", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	nodeResponses := make([]NodeResponse, len(nodes))
	for i, n := range nodes {
		nodeResponses[i] = NodeResponse{
			NodeID:    n.NodeID,
			NodeName:  n.NodeName,
			HwModel:   n.HwModel,
			LastHeard: n.LastHeard.Format("2006-01-02 15:04:05"),
			Latitude:  n.Latitude,
			Longitude: n.Longitude,
		}
	}

	sort.Slice(nodeResponses, func(i, j int) bool {
		return nodeResponses[i].NodeID < nodeResponses[j].NodeID
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(NodesResponse{Nodes: nodeResponses})
}
