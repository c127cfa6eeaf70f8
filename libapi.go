package edgeflow

import (
	runtimepkg "github.com/drblury/edgeflow/internal/runtime"
	buspkg "github.com/drblury/edgeflow/internal/runtime/bus"
	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	hostpkg "github.com/drblury/edgeflow/internal/runtime/host"
	idspkg "github.com/drblury/edgeflow/internal/runtime/ids"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	jsoncodec "github.com/drblury/edgeflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/edgeflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/edgeflow/internal/runtime/metadata"
	"github.com/drblury/edgeflow/internal/runtime/rest"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
	"github.com/drblury/edgeflow/transport"
)

type (
	Config           = configpkg.Config
	SignInResponse   = configpkg.SignInResponse
	Node             = runtimepkg.Node
	NodeDependencies = runtimepkg.NodeDependencies
	Callbacks        = runtimepkg.Callbacks
	LoadState        = runtimepkg.LoadState

	ContractFactory    = runtimepkg.ContractFactory
	BusContractOptions = runtimepkg.BusContractOptions
	Contract           = transport.Contract
	ContractSettings   = transport.Settings
	ContractHandlers   = transport.Handlers
	InboundMessage     = transport.InboundMessage
	Action             = transport.Action

	Itinerary      = itinerary.Itinerary
	Activity       = itinerary.Activity
	Connection     = itinerary.Connection
	Endpoint       = itinerary.Endpoint
	UserData       = itinerary.UserData
	ActivityConfig = itinerary.ActivityConfig
	Setting        = itinerary.Setting
	Envelope       = envelope.Envelope
	Origin         = envelope.Origin
	Variable       = envelope.Variable
	Tracking       = envelope.TrackingRecord

	Unit        = hostpkg.Unit
	UnitConfig  = hostpkg.UnitConfig
	UnitFactory = hostpkg.UnitFactory
	UnitBase    = hostpkg.Base
	Delivery    = hostpkg.Delivery
	Message     = hostpkg.Message
	Events      = hostpkg.Events

	RetryStore    = retrystore.Store
	ReplayResult  = retrystore.ReplayResult
	RetryMetrics  = retrystore.Metrics
	RESTListener  = rest.Listener
	RESTOptions   = rest.Options
	MiddlewareReg = buspkg.MiddlewareRegistration
	JobContext    = buspkg.JobContext
	JobHooks      = buspkg.JobHooks

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Transport registry
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	ConfigurationError     = errspkg.ConfigurationError
	FetchError             = errspkg.FetchError
	InitializationError    = errspkg.InitializationError
	RoutingExpressionError = errspkg.RoutingExpressionError
	RoutingMissError       = errspkg.RoutingMissError
	TransportError         = errspkg.TransportError
	PersistenceError       = errspkg.PersistenceError
)

const (
	LoadNone    = runtimepkg.LoadNone
	LoadLoading = runtimepkg.LoadLoading
	LoadDone    = runtimepkg.LoadDone

	ContentTypeJSON = envelope.ContentTypeJSON
	RoutingMissCode = errspkg.RoutingMissCode

	ConnectionType       = itinerary.ConnectionType
	KeyHost              = itinerary.KeyHost
	KeyEnabled           = itinerary.KeyEnabled
	KeyRoutingExpression = itinerary.KeyRoutingExpression

	BaseTypeOneWayReceive = itinerary.BaseTypeOneWayReceive
	BaseTypeTwoWayReceive = itinerary.BaseTypeTwoWayReceive
	BaseTypeStateReceive  = itinerary.BaseTypeStateReceive

	UnitTypeInboundREST  = hostpkg.TypeInboundREST
	UnitTypeStateReceive = hostpkg.TypeStateReceive
	InboundRESTRoute     = hostpkg.StaticRoute
	InboundRESTMethod    = hostpkg.StaticMethod
)

var (
	NewNode     = runtimepkg.NewNode
	BusContract = runtimepkg.BusContract

	LoadConfig         = configpkg.LoadFile
	ValidateConfig     = configpkg.ValidateConfig
	LoadSignIn         = configpkg.LoadSignIn
	LoadSettings       = configpkg.LoadSettings
	ParseItinerary     = itinerary.Parse
	OpenRetryStore     = retrystore.Open
	NewFileRetryStore  = retrystore.NewFileStore
	NewRetryMetrics    = retrystore.NewMetrics
	WithRetryMetrics   = retrystore.WithMetrics
	NewRESTListener    = rest.New
	RegisterUnit       = hostpkg.RegisterUnit
	UnitTypes          = hostpkg.UnitTypes
	NewEnvelopeSealer  = envelope.NewSealer
	NewEnvelope        = envelope.New
	UnmarshalEnvelope  = envelope.Unmarshal
	LoggingHooks       = buspkg.LoggingHooks
	JobHooksMiddleware = buspkg.JobHooksMiddleware

	// Transport registry
	DefaultTransportRegistry = transport.DefaultRegistry
	NewTransportRegistry     = transport.NewRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrNodeNameRequired  = errspkg.ErrNodeNameRequired
	ErrTransportRequired = errspkg.ErrTransportRequired
	ErrStoreRequired     = errspkg.ErrStoreRequired
	ErrReloadInProgress  = errspkg.ErrReloadInProgress
	ErrHopLimitExceeded  = errspkg.ErrHopLimitExceeded
	ErrNotConnected      = errspkg.ErrNotConnected
)

// NewMetadata builds metadata from key/value pairs.
func NewMetadata(pairs ...string) Metadata {
	return metadatapkg.New(pairs...)
}

// CreateULID returns a new monotonic ULID string.
func CreateULID() string {
	return idspkg.CreateULID()
}

var (
	// NewSlogServiceLogger adapts a slog.Logger; it panics on nil.
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopServiceLogger     = loggingpkg.NopServiceLogger
)
