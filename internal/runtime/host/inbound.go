package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/render"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// Static config keys read by the inbound REST unit.
const (
	StaticRoute  = "route"
	StaticMethod = "method"
)

var errNoListener = errors.New("inbound REST unit requires the shared REST listener")

// InboundREST turns HTTP requests on the shared listener into messages. JSON
// and form bodies are normalised to JSON; other bodies pass through with
// their content type.
type InboundREST struct {
	Base
	name    string
	route   string
	method  string
	logger  logging.ServiceLogger
	started atomic.Bool
}

func NewInboundREST() *InboundREST {
	return &InboundREST{}
}

// Route returns the pattern bound during Init.
func (u *InboundREST) Route() string { return u.route }

func (u *InboundREST) Init(_ context.Context, cfg UnitConfig) error {
	if cfg.Routes == nil {
		return errNoListener
	}
	u.name = cfg.Name
	u.logger = cfg.Logger
	if u.logger == nil {
		u.logger = logging.NopServiceLogger()
	}
	u.route = stringSetting(cfg.Static, StaticRoute, "/"+strings.ToLower(cfg.Name))
	if !strings.HasPrefix(u.route, "/") {
		u.route = "/" + u.route
	}
	u.method = strings.ToUpper(stringSetting(cfg.Static, StaticMethod, http.MethodPost))
	cfg.Routes.Method(u.method, u.route, http.HandlerFunc(u.serve))
	return nil
}

func (u *InboundREST) Start(context.Context) error {
	u.started.Store(true)
	return nil
}

func (u *InboundREST) Stop(context.Context) error {
	u.started.Store(false)
	return nil
}

// Process has nothing to do: the unit only originates messages.
func (u *InboundREST) Process(context.Context, Delivery) error {
	return nil
}

func (u *InboundREST) serve(w http.ResponseWriter, r *http.Request) {
	if !u.started.Load() {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"error": "service " + u.name + " is not running"})
		return
	}

	body, contentType, err := readRequest(r)
	if err != nil {
		u.logger.Error("Failed to read inbound request", err, logging.LogFields{"service": u.name, "route": u.route})
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	u.Emit(context.WithoutCancel(r.Context()), Message{Body: body, ContentType: contentType})
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "accepted"})
}

func readRequest(r *http.Request) ([]byte, string, error) {
	switch render.GetRequestContentType(r) {
	case render.ContentTypeJSON:
		var doc any
		if err := render.DecodeJSON(r.Body, &doc); err != nil {
			return nil, "", fmt.Errorf("decode body: %w", err)
		}
		return marshalDocument(doc)
	case render.ContentTypeForm:
		fields := map[string]any{}
		if err := render.DecodeForm(r.Body, &fields); err != nil {
			return nil, "", fmt.Errorf("decode form: %w", err)
		}
		return marshalDocument(fields)
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", err
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "text/plain"
		}
		return body, contentType, nil
	}
}

func marshalDocument(doc any) ([]byte, string, error) {
	body, err := jsoncodec.Marshal(doc)
	if err != nil {
		return nil, "", err
	}
	return body, envelope.ContentTypeJSON, nil
}

func stringSetting(static map[string]any, key, fallback string) string {
	if v, ok := static[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
