package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/eloc-provisioning/common"
	"github.com/ruteri/eloc-provisioning/config"
	"github.com/ruteri/eloc-provisioning/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// LoadConfig reads the --config file and applies flag overrides on top.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}

	if cCtx.IsSet(RecordFileFlag.Name) {
		cfg.RecordFile = cCtx.String(RecordFileFlag.Name)
	}
	if cCtx.IsSet(AuditFileFlag.Name) {
		cfg.AuditFile = cCtx.String(AuditFileFlag.Name)
	}
	if cCtx.IsSet(PortFlag.Name) {
		cfg.Port = cCtx.String(PortFlag.Name)
	}
	if cCtx.IsSet(BaudFlag.Name) {
		cfg.Baud = cCtx.Int(BaudFlag.Name)
	}
	if cCtx.IsSet(EnvFlag.Name) {
		cfg.Environment = cCtx.String(EnvFlag.Name)
	}
	if cCtx.IsSet(KeyPolicyFlag.Name) {
		cfg.KeyPolicy = cCtx.String(KeyPolicyFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"ELOC_CONFIG"},
	Usage:   "path to the YAML configuration file. Defaults apply when not set",
}

var RecordFileFlag = &cli.StringFlag{
	Name:    "record-file",
	EnvVars: []string{"ELOC_RECORD_FILE"},
	Usage:   "factory configuration table (NVS CSV) to provision",
}

var AuditFileFlag = &cli.StringFlag{
	Name:    "audit-file",
	EnvVars: []string{"ELOC_AUDIT_FILE"},
	Usage:   "append-only provisioning log",
}

var PortFlag = &cli.StringFlag{
	Name:    "port",
	Aliases: []string{"p"},
	EnvVars: []string{"ELOC_PORT"},
	Usage:   "serial port of the device. Discovered when not set",
}

var BaudFlag = &cli.IntFlag{
	Name:    "baud",
	EnvVars: []string{"ELOC_BAUD"},
	Usage:   "esptool baud rate",
}

var EnvFlag = &cli.StringFlag{
	Name:    "env",
	EnvVars: []string{"ELOC_ENV"},
	Usage:   "PlatformIO environment to build and flash",
}

var KeyPolicyFlag = &cli.StringFlag{
	Name:    "key-policy",
	EnvVars: []string{"ELOC_KEY_POLICY"},
	Usage:   "join key regeneration: 'always' appends missing key fields, 'if-present' only replaces existing ones",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	EnvVars: []string{"ELOC_LISTEN_ADDR"},
	Usage:   "address to serve the station status API on",
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 5,
	Usage: "seconds to report not ready before shutting down",
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
}

var CommonFlags = []cli.Flag{
	ConfigFlag,
	RecordFileFlag,
	AuditFileFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}
