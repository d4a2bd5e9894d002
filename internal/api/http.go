package api

import (
	"context"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/cardresource/cardres/internal/logging"
	"github.com/cardresource/cardres/internal/metrics"
	"github.com/cardresource/cardres/internal/resource"
	"github.com/cardresource/cardres/internal/service"
	"github.com/cardresource/cardres/internal/settings"
	"github.com/cardresource/cardres/internal/updater"
	"github.com/cardresource/cardres/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// If version wasn't set via ldflags, this is a dev build
	// Try to get VCS info from Go's build info
	if Version == "" {
		Version = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			var vcsRevision, vcsTime string
			var vcsModified bool
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value == "true"
				}
			}
			if vcsRevision != "" {
				shortCommit := vcsRevision
				if len(shortCommit) > 7 {
					shortCommit = shortCommit[:7]
				}
				GitCommit = vcsRevision
				Version = "dev-" + shortCommit
				if vcsModified {
					Version += "-dirty"
				}
			}
			if vcsTime != "" {
				BuildTime = vcsTime
			}
		}
	}
}

//go:embed docs/swagger.json
var swaggerDoc embed.FS

// shutdownHandler is called when a shutdown is requested via API
var shutdownHandler func()

// updateChecker handles checking for updates from GitHub
var updateChecker *updater.Checker

// SetShutdownHandler sets the callback for shutdown requests
func SetShutdownHandler(handler func()) {
	shutdownHandler = handler
}

// InitUpdateChecker initializes the update checker with the current version
func InitUpdateChecker() {
	updateChecker = updater.NewChecker(Version)
}

// allocationRegistry tracks every CardResource handed out through the
// HTTP API, keyed by its ID's string form, so a later release/remove
// call can find the *resource.CardResource the ID refers to. The
// service itself has no notion of an HTTP-facing identifier.
type allocationRegistry struct {
	mu        sync.Mutex
	resources map[string]*resource.CardResource
}

var allocations = &allocationRegistry{resources: make(map[string]*resource.CardResource)}

func (a *allocationRegistry) put(res *resource.CardResource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resources[res.ID().String()] = res
}

func (a *allocationRegistry) get(id string) *resource.CardResource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resources[id]
}

func (a *allocationRegistry) delete(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.resources, id)
}

// NewMux constructs and returns the HTTP mux for the API.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Serve embedded status web UI at root
	mux.Handle("/", web.Handler())

	// API routes
	mux.HandleFunc("/v1/profiles", corsMiddleware(handleProfiles))
	mux.HandleFunc("/v1/readers", corsMiddleware(handleReaders))
	mux.HandleFunc("/v1/allocate", corsMiddleware(handleAllocate))
	mux.HandleFunc("/v1/resources/", corsMiddleware(handleResourceRoutes))
	mux.Handle("/v1/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/version", corsMiddleware(handleVersion))
	mux.HandleFunc("/v1/health", corsMiddleware(handleHealth))
	mux.HandleFunc("/v1/logs", corsMiddleware(handleLogs))
	mux.HandleFunc("/v1/crashes", corsMiddleware(handleCrashes))
	mux.HandleFunc("/v1/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/v1/shutdown", corsMiddleware(handleShutdown))
	mux.HandleFunc("/v1/autostart", corsMiddleware(handleAutostart))
	mux.HandleFunc("/v1/updates", corsMiddleware(handleUpdates))
	mux.HandleFunc("/swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	mux.HandleFunc("/swagger/doc.json", corsMiddleware(handleSwaggerDoc))
	return mux
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				context := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				// Send to Sentry if enabled
				logging.CapturePanic(rec, stack, context)

				// Log to in-memory logger
				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", context, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				// Write crash log to file
				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				// Print to stderr
				fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, rec, string(stack))

				// Send 500 response
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Wrap with recovery middleware
		recoveryMiddleware(next)(w, r)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Error logged but not returned (header already sent)
}

// handleProfiles lists every profile the daemon was configured with.
func handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	svc := (resource.Provider{}).Get()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": svc.Profiles(),
	})
}

// handleReaders lists every reader currently tracked by the service.
func handleReaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	svc := (resource.Provider{}).Get()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"readers": svc.ReaderStatuses(),
	})
}

// cardResourceView is the JSON-facing shape of an allocated
// resource.CardResource; the type itself deliberately exposes nothing
// to encoding/json.
type cardResourceView struct {
	ID             string `json:"id"`
	Reader         string `json:"reader"`
	SelectResponse string `json:"selectResponse,omitempty"`
	PowerOnData    string `json:"powerOnData,omitempty"`
}

func newCardResourceView(res *resource.CardResource) cardResourceView {
	view := cardResourceView{ID: res.ID().String(), Reader: res.Reader().Name()}
	if sel := res.SmartCard().SelectApplicationResponse(); len(sel) > 0 {
		view.SelectResponse = hex.EncodeToString(sel)
	}
	if pod, ok := res.SmartCard().PowerOnData(); ok {
		view.PowerOnData = hex.EncodeToString(pod)
	}
	return view
}

// handleAllocate resolves a profile name to a CardResource, blocking
// only when the service was configured in blocking allocation mode,
// and never past the per-request timeout.
//
// POST /v1/allocate {"profile": "default", "timeoutSeconds": 5}
func handleAllocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Profile        string `json:"profile"`
		TimeoutSeconds int    `json:"timeoutSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Profile == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "profile is required"})
		return
	}

	ctx := r.Context()
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	svc := (resource.Provider{}).Get()
	res, err := svc.GetCardResource(ctx, req.Profile)
	if err != nil {
		status, body := allocationErrorResponse(err)
		logging.Debug(logging.CatAllocation, "Allocation failed", map[string]any{
			"profile": req.Profile,
			"error":   err.Error(),
		})
		respondJSON(w, status, body)
		return
	}

	allocations.put(res)
	logging.Info(logging.CatAllocation, "Card resource allocated", map[string]any{
		"profile":  req.Profile,
		"resource": res.ID().String(),
		"reader":   res.Reader().Name(),
	})
	respondJSON(w, http.StatusOK, newCardResourceView(res))
}

func allocationErrorResponse(err error) (int, map[string]string) {
	switch {
	case errors.Is(err, resource.ErrUnknownProfile):
		return http.StatusNotFound, map[string]string{"error": err.Error()}
	case errors.Is(err, resource.ErrNoCardResourceAvailable):
		return http.StatusConflict, map[string]string{"error": err.Error()}
	case errors.Is(err, resource.ErrIllegalState):
		return http.StatusServiceUnavailable, map[string]string{"error": err.Error()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, map[string]string{"error": "allocation timed out"}
	default:
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
}

// handleResourceRoutes dispatches /v1/resources/{id}/release and
// /v1/resources/{id} (DELETE, to remove and forget the resource).
func handleResourceRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid path"})
		return
	}
	id := parts[1]

	res := allocations.get(id)
	if res == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource id"})
		return
	}

	svc := (resource.Provider{}).Get()

	if len(parts) >= 3 && parts[2] == "release" {
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if err := svc.ReleaseCardResource(res); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		allocations.delete(id)
		logging.Info(logging.CatAllocation, "Card resource released", map[string]any{"resource": id})
		respondJSON(w, http.StatusOK, map[string]string{"success": "released"})
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodDelete {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if err := svc.RemoveCardResource(res); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		allocations.delete(id)
		logging.Info(logging.CatAllocation, "Card resource removed", map[string]any{"resource": id})
		respondJSON(w, http.StatusOK, map[string]string{"success": "removed"})
		return
	}

	respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	}

	if updateChecker != nil {
		info := updateChecker.Check(false) // Use cached result
		response["updateAvailable"] = info.Available
		if info.LatestVersion != "" {
			response["latestVersion"] = info.LatestVersion
		}
		if info.ReleaseURL != "" {
			response["releaseUrl"] = info.ReleaseURL
		}
	}

	respondJSON(w, http.StatusOK, response)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	svc := (resource.Provider{}).Get()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"started":     svc.IsStarted(),
		"readerCount": len(svc.ReaderStatuses()),
	})
}

func handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if shutdownHandler == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "shutdown not available",
		})
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	// Trigger shutdown after response is sent
	go func() {
		shutdownHandler()
	}()
}

func handleAutostart(w http.ResponseWriter, r *http.Request) {
	svc := service.New()

	switch r.Method {
	case http.MethodGet:
		installed := svc.IsInstalled()
		status, _ := svc.Status()

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": installed,
			"status":  status,
		})

	case http.MethodPost:
		if svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{
				"success": "auto-start already enabled",
			})
			return
		}

		if err := svc.Install(); err != nil {
			logging.Error(logging.CatSystem, "Failed to enable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
			return
		}

		logging.Info(logging.CatSystem, "Auto-start enabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "auto-start enabled",
		})

	case http.MethodDelete:
		if !svc.IsInstalled() {
			respondJSON(w, http.StatusOK, map[string]string{
				"success": "auto-start already disabled",
			})
			return
		}

		if err := svc.Uninstall(); err != nil {
			logging.Error(logging.CatSystem, "Failed to disable auto-start", map[string]any{
				"error": err.Error(),
			})
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": err.Error(),
			})
			return
		}

		logging.Info(logging.CatSystem, "Auto-start disabled via API", nil)
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "auto-start disabled",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()

		limit := 100
		if limitStr := query.Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
				if limit > 1000 {
					limit = 1000
				}
			}
		}

		var minLevel *logging.Level
		if levelStr := query.Get("level"); levelStr != "" {
			switch strings.ToLower(levelStr) {
			case "debug":
				l := logging.LevelDebug
				minLevel = &l
			case "info":
				l := logging.LevelInfo
				minLevel = &l
			case "warn":
				l := logging.LevelWarn
				minLevel = &l
			case "error":
				l := logging.LevelError
				minLevel = &l
			}
		}

		var category *logging.Category
		if catStr := query.Get("category"); catStr != "" {
			c := logging.Category(catStr)
			category = &c
		}

		entries := logging.Get().GetEntries(limit, minLevel, category)
		stats := logging.Get().Stats()

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"stats":   stats,
		})

	case http.MethodDelete:
		logging.Get().Clear()
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "logs cleared",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func handleCrashes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()

		filename := query.Get("file")
		if filename != "" {
			content, err := logging.ReadCrashLog(filename)
			if err != nil {
				respondJSON(w, http.StatusNotFound, map[string]string{
					"error": "crash log not found: " + err.Error(),
				})
				return
			}
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"filename": filename,
				"content":  content,
			})
			return
		}

		limit := 20
		if limitStr := query.Get("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
				if limit > 100 {
					limit = 100
				}
			}
		}

		logs, err := logging.GetCrashLogs(limit)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to list crash logs: " + err.Error(),
			})
			return
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashes":  logs,
			"crashDir": logging.CrashLogDir(),
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleSettings handles GET and POST requests for user settings.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting": s.CrashReporting,
			"defaultProfile": s.DefaultProfile,
			"logLevel":       s.LogLevel,
		})

	case http.MethodPost:
		var req struct {
			CrashReporting *bool   `json:"crashReporting"`
			DefaultProfile *string `json:"defaultProfile"`
			LogLevel       *string `json:"logLevel"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid request body: " + err.Error(),
			})
			return
		}

		if req.CrashReporting != nil {
			if err := settings.SetCrashReporting(*req.CrashReporting); err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to save settings: " + err.Error(),
				})
				return
			}
		}
		if req.DefaultProfile != nil {
			if err := settings.SetDefaultProfile(*req.DefaultProfile); err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to save settings: " + err.Error(),
				})
				return
			}
		}
		if req.LogLevel != nil {
			if err := settings.SetLogLevel(*req.LogLevel); err != nil {
				respondJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "failed to save settings: " + err.Error(),
				})
				return
			}
		}

		s := settings.Get()
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"crashReporting": s.CrashReporting,
			"defaultProfile": s.DefaultProfile,
			"logLevel":       s.LogLevel,
			"message":        "Settings updated. Restart may be required for some changes to take effect.",
		})

	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// handleUpdates checks for available updates from GitHub releases
func handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if updateChecker == nil {
		InitUpdateChecker()
	}

	forceRefresh := r.URL.Query().Get("refresh") == "true"
	info := updateChecker.Check(forceRefresh)

	respondJSON(w, http.StatusOK, info)
}

// handleSwaggerDoc serves the hand-authored OpenAPI document describing
// the routes registered by NewMux.
func handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	data, err := swaggerDoc.ReadFile("docs/swagger.json")
	if err != nil {
		http.Error(w, "swagger doc missing from build", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
