package linkwidget

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartswipe/syncclient/logger"
)

var pageTemplate = template.Must(template.New("link").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Link an account</title></head>
<body>
<p id="status">Opening the account linking window...</p>
<script src="{{.ScriptURL}}"></script>
<script>
  function post(path, body) {
    return fetch(path, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body)});
  }
  var handler = Plaid.create({
    token: {{.Token}},
    onSuccess: function (publicToken, metadata) {
      document.getElementById("status").textContent = "Linked. You can close this window.";
      post("/success", {public_token: publicToken, metadata: metadata});
    },
    onExit: function (err, metadata) {
      document.getElementById("status").textContent = "Closed. You can close this window.";
      post("/exit", {error: err, metadata: metadata});
    }
  });
  handler.open();
</script>
</body>
</html>
`))

// LoopbackWidget hosts the widget page on a local HTTP server. Loading the
// script starts the server and removing it shuts the server down.
type LoopbackWidget struct {
	addr      string
	scriptURL string
	// OpenURL shows the page to the user; the default only logs the URL
	OpenURL func(url string) error
	log     *logger.Logger

	mu      sync.Mutex
	servers map[string]*loopbackServer
}

type loopbackServer struct {
	server *http.Server
	url    string

	mu  sync.Mutex
	cfg *Config
}

// NewLoopbackWidget serves pages on addr, e.g. 127.0.0.1:0
func NewLoopbackWidget(addr string) *LoopbackWidget {
	w := &LoopbackWidget{
		addr:      addr,
		scriptURL: ScriptURL,
		log:       logger.ForLink().WithField("widget", "loopback"),
		servers:   make(map[string]*loopbackServer),
	}
	w.OpenURL = func(url string) error {
		w.log.Info().Str("url", url).Msg("Open this address in a browser to link an account")
		return nil
	}
	return w
}

// Load starts a page server
func (w *LoopbackWidget) Load(ctx context.Context) (Script, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", w.addr)
	if err != nil {
		return Script{}, err
	}

	ls := &loopbackServer{url: "http://" + ln.Addr().String() + "/"}
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.page(ls))
	mux.HandleFunc("/success", w.success(ls))
	mux.HandleFunc("/exit", w.exit(ls))
	ls.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	script := Script{ID: uuid.NewString(), URL: ls.url}
	w.mu.Lock()
	w.servers[script.ID] = ls
	w.mu.Unlock()

	go func() {
		if err := ls.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error().Err(err).Msg("Widget page server stopped")
		}
	}()

	w.log.Debug().Str("url", ls.url).Msg("Widget page server started")
	return script, nil
}

// Create binds cfg to the page served for script
func (w *LoopbackWidget) Create(script Script, cfg Config) (Handler, error) {
	w.mu.Lock()
	ls, ok := w.servers[script.ID]
	w.mu.Unlock()
	if !ok {
		return nil, errors.New("widget script is not loaded")
	}

	ls.mu.Lock()
	ls.cfg = &cfg
	ls.mu.Unlock()
	return &loopbackHandler{widget: w, url: ls.url}, nil
}

// Remove shuts the page server of script down
func (w *LoopbackWidget) Remove(script Script) {
	w.mu.Lock()
	ls, ok := w.servers[script.ID]
	delete(w.servers, script.ID)
	w.mu.Unlock()

	if ok {
		w.shutdown(ls)
	}
}

// RemoveAll shuts every page server down
func (w *LoopbackWidget) RemoveAll() {
	w.mu.Lock()
	servers := w.servers
	w.servers = make(map[string]*loopbackServer)
	w.mu.Unlock()

	for _, ls := range servers {
		w.shutdown(ls)
	}
}

func (w *LoopbackWidget) shutdown(ls *loopbackServer) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ls.server.Shutdown(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Widget page server did not stop cleanly")
	}
}

func (ls *loopbackServer) config() *Config {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.cfg
}

func (w *LoopbackWidget) page(ls *loopbackServer) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(rw, r)
			return
		}
		cfg := ls.config()
		if cfg == nil {
			http.Error(rw, "widget not ready", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := pageTemplate.Execute(rw, struct {
			ScriptURL string
			Token     string
		}{w.scriptURL, cfg.Token})
		if err != nil {
			w.log.Error().Err(err).Msg("Failed to render widget page")
		}
	}
}

type successBody struct {
	PublicToken string `json:"public_token"`
}

type exitBody struct {
	Error *ExitError `json:"error"`
}

func (w *LoopbackWidget) success(ls *loopbackServer) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var body successBody
		if !decodeCallback(rw, r, &body) {
			return
		}
		if body.PublicToken == "" {
			http.Error(rw, "missing public_token", http.StatusBadRequest)
			return
		}
		if cfg := ls.config(); cfg != nil && cfg.OnSuccess != nil {
			cfg.OnSuccess(body.PublicToken)
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func (w *LoopbackWidget) exit(ls *loopbackServer) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var body exitBody
		if !decodeCallback(rw, r, &body) {
			return
		}
		if cfg := ls.config(); cfg != nil && cfg.OnExit != nil {
			cfg.OnExit(body.Error)
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func decodeCallback(rw http.ResponseWriter, r *http.Request, out any) bool {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "unreadable body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		http.Error(rw, "malformed body", http.StatusBadRequest)
		return false
	}
	return true
}

type loopbackHandler struct {
	widget *LoopbackWidget
	url    string
}

func (h *loopbackHandler) Open(ctx context.Context) error {
	return h.widget.OpenURL(h.url)
}
