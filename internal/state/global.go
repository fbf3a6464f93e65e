package state

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/alive/v2"
	"github.com/temoto/powermeter/hardware/serial"
	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/meter"
	"github.com/temoto/powermeter/metrics"
	"github.com/temoto/powermeter/tele"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Registry     *prometheus.Registry
	Metrics      *metrics.Meter

	// Replaced by tests before Init.
	NewPort func(driver string) (serial.Porter, error)
	NewMqtt tele.ClientFactory

	mu        sync.Mutex
	port      serial.Porter
	publisher *tele.MqttPublisher
	logFile   io.Closer
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	reg := metrics.NewRegistry()
	g := &Global{
		Alive:    alive.NewAlive(),
		Log:      log,
		Registry: reg,
		Metrics:  metrics.NewMeter(reg),
		NewPort:  serial.NewPort,
		NewMqtt:  mqtt.NewClient,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init applies config, no IO except optional log file.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	level, err := cfg.ParseLogLevel()
	if err != nil {
		return err
	}
	g.Log.SetLevel(level)
	if cfg.LogFile.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
		}
		l := log2.NewWriter(io.MultiWriter(os.Stderr, lj), level)
		l.SetFlags(g.Log.Flags())
		g.Log = l
		g.logFile = lj
	}
	g.Log.Infof("build version=%s", g.BuildVersion)
	g.Log.Debugf("config=%+v", *cfg)
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

// OpenPort creates serial port from config on first call, reopens same port later.
func (g *Global) OpenPort() (serial.Porter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.Alive.IsRunning() {
		return nil, errors.Errorf("stopping")
	}
	if g.port == nil {
		port, err := g.NewPort(g.Config.Serial.Driver)
		if err != nil {
			return nil, errors.Annotate(err, "serial")
		}
		g.port = port
	}
	opt := g.Config.SerialOptions()
	if err := g.port.Open(opt); err != nil {
		return nil, errors.Annotatef(err, "serial open device=%s", opt.Device)
	}
	g.Log.Infof("serial open device=%s baud=%d", opt.Device, opt.Baud)
	return g.port, nil
}

func (g *Global) closePort() {
	g.mu.Lock()
	port := g.port
	g.mu.Unlock()
	if port != nil {
		if err := port.Close(); err != nil {
			g.Error(err, "serial close")
		}
	}
}

// Publisher creates MQTT client and starts background connect.
func (g *Global) Publisher() (*tele.MqttPublisher, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.publisher != nil {
		return g.publisher, nil
	}
	p, err := tele.NewMqttPublisher(g.Log, g.Config.TeleConfig(), g.NewMqtt)
	if err != nil {
		return nil, errors.Annotate(err, "mqtt")
	}
	p.Connect()
	g.publisher = p
	return p, nil
}

func (g *Global) NewPipeline(port serial.Porter, sink meter.Sink) *meter.Pipeline {
	r := meter.NewReader(port, g.Config.ReaderConfig(), g.Log, g.Metrics)
	v := meter.NewValidator(meter.ValidateStrict, g.Log, g.Metrics)
	g.Config.ApplyValidator(v)
	e := meter.NewExtractor(g.Log, g.Metrics)
	g.Config.ApplyExtractor(e)
	p := meter.NewPipeline(r, v, e, sink, g.Log, g.Metrics)
	p.OnError = func(error) error {
		_, err := g.OpenPort()
		return err
	}
	return p
}

// Run reads meter into sink until Alive is stopped.
func (g *Global) Run(ctx context.Context, sink meter.Sink) error {
	if !g.Alive.Add(1) {
		return nil
	}
	defer g.Alive.Done()
	port, err := g.OpenPort()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-g.Alive.StopChan():
		case <-ctx.Done():
		}
		cancel()
		g.closePort()
	}()

	if listen := g.Config.Metrics.Listen; listen != "" && g.Alive.Add(1) {
		go func() {
			defer g.Alive.Done()
			if err := metrics.Serve(ctx, listen, g.Registry, g.Log); err != nil {
				g.Error(err)
			}
		}()
	}

	err = g.NewPipeline(port, sink).Run(ctx)
	g.Log.Infof("exit")
	return err
}

func (g *Global) NotifySignals() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			g.Log.Infof("signal=%v", sig)
			g.Stop()
		case <-g.Alive.StopChan():
		}
		signal.Stop(sigs)
	}()
}

// Close releases port, MQTT connection and log file.
func (g *Global) Close() {
	g.closePort()
	g.mu.Lock()
	p, lf := g.publisher, g.logFile
	g.publisher, g.logFile = nil, nil
	g.mu.Unlock()
	if p != nil {
		p.Close()
	}
	if lf != nil {
		_ = lf.Close()
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(errors.ErrorStack(err))
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(err)
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
