// Main mode of operation: meter to MQTT broker.
package run

import (
	"context"
	"os"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/powermeter/cmd/powermeter/subcmd"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/meter"
)

var Mod = subcmd.Mod{Name: "run", Usage: "read meter, publish fields to MQTT", Main: Main}
var DumpMod = subcmd.Mod{Name: "dump", Usage: "read meter, print fields to stdout", Main: DumpMain}

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	pub, err := g.Publisher()
	if err != nil {
		return errors.Annotate(err, "publisher")
	}
	return serve(ctx, g, pub)
}

func DumpMain(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Close()

	return serve(ctx, g, meter.WriterSink(os.Stdout))
}

func serve(ctx context.Context, g *state.Global, sink meter.Sink) error {
	g.NotifySignals()
	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("init complete, reading meter")
	err := g.Run(ctx, sink)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	return err
}
